// Package worker manages the local inference worker subprocess. The
// worker speaks newline-delimited JSON over stdin/stdout: one request
// line in, a stream of status lines out, correlated by request id.
package worker

import "github.com/okhotin/lingod/internal/event"

// Ops understood by the worker process.
const (
	opLoad     = "load"
	opGenerate = "generate"
	opCancel   = "cancel"
)

// Request is one line written to the worker's stdin.
type Request struct {
	ID        string   `json:"id"`
	Op        string   `json:"op"`
	Model     string   `json:"model,omitempty"`
	Text      string   `json:"text,omitempty"`
	Texts     []string `json:"texts,omitempty"`
	Source    string   `json:"source,omitempty"`
	Target    string   `json:"target,omitempty"`
	Delimiter string   `json:"delimiter,omitempty"`
	Block     bool     `json:"block,omitempty"`
}

// Message is one line read from the worker's stdout.
type Message struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Resource string  `json:"resource,omitempty"`
	Progress float64 `json:"progress,omitempty"`
	Index    int     `json:"index,omitempty"`
	Data     string  `json:"data,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Terminal reports whether this message settles its request.
func (m Message) Terminal() bool {
	switch m.Status {
	case "complete", "block-complete", "error", "block-error":
		return true
	}
	return false
}

// Event converts a worker message to a status event. The worker's "update"
// status is an incremental token for a single-text request and maps to a
// chunk at index 0. Unknown statuses return ok = false and are dropped.
func (m Message) Event() (e event.Event, ok bool) {
	switch m.Status {
	case "progress":
		return event.Event{Kind: event.Progress, Resource: m.Resource, Percent: m.Progress}, true
	case "update":
		return event.Event{Kind: event.Chunk, Index: 0, Text: m.Data}, true
	case "chunk":
		return event.Event{Kind: event.Chunk, Index: m.Index, Text: m.Data}, true
	case "block-chunk":
		return event.Event{Kind: event.BlockChunk, Index: m.Index, Text: m.Data}, true
	case "complete":
		return event.Event{Kind: event.Complete, Text: m.Data}, true
	case "block-complete":
		return event.Event{Kind: event.BlockComplete}, true
	case "error":
		return event.Event{Kind: event.Error, Message: m.Error}, true
	case "block-error":
		return event.Event{Kind: event.BlockError, Index: m.Index, Message: m.Error}, true
	}
	return event.Event{}, false
}
