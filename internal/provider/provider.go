// Package provider abstracts translation backends behind one generate
// contract. Two implementations exist: Local drives the managed worker
// subprocess over its message channel, Remote fans out to an
// Ollama-compatible HTTP server with streamed response bodies.
package provider

import (
	"context"

	"github.com/okhotin/lingod/internal/event"
)

// Request is one generate call. Texts are ordered fragments; the index in
// this slice is the sole correlation key for result events.
type Request struct {
	Model  string
	Texts  []string
	Source string
	Target string
	// Delimiter is the reserved separator active for this request. In
	// contextual prompts it must be preserved verbatim by the model; for
	// the local worker in block mode it frames the transport payload.
	Delimiter string
	// Block requests per-fragment isolation semantics: block-chunk per
	// finished fragment, block-error on partial failure, block-complete
	// terminal.
	Block bool
}

// Provider generates translations for a request, delivering status events
// on the returned channel. The channel carries at most one terminal event
// and is closed after it. When ctx is cancelled mid-request, in-flight
// work is aborted and the channel is closed without further events.
type Provider interface {
	Generate(ctx context.Context, req Request) (<-chan event.Event, error)
}
