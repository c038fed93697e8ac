package provider

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/okhotin/lingod/internal/event"
	"github.com/okhotin/lingod/internal/ollama"
)

// DefaultRemoteConcurrency bounds parallel fragment calls per request.
const DefaultRemoteConcurrency = 4

// Remote translates through an Ollama-compatible HTTP server, one request
// per fragment. Fragment calls run concurrently; results are correlated
// by fragment index, never by arrival order.
type Remote struct {
	client      *ollama.Client
	concurrency int
	logger      *slog.Logger
}

// NewRemote returns a Remote provider. concurrency <= 0 selects
// DefaultRemoteConcurrency.
func NewRemote(client *ollama.Client, concurrency int, logger *slog.Logger) *Remote {
	if concurrency <= 0 {
		concurrency = DefaultRemoteConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{client: client, concurrency: concurrency, logger: logger}
}

// Generate implements Provider.
func (p *Remote) Generate(ctx context.Context, req Request) (<-chan event.Event, error) {
	out := make(chan event.Event, 16)

	go func() {
		defer close(out)
		if req.Block {
			p.generateBlock(ctx, req, out)
		} else {
			p.generateSingle(ctx, req, out)
		}
	}()

	return out, nil
}

func emitTo(ctx context.Context, out chan<- event.Event, e event.Event) {
	select {
	case out <- e:
	case <-ctx.Done():
	}
}

// generateSingle streams one fragment: chunk per token, terminal complete
// with the full text.
func (p *Remote) generateSingle(ctx context.Context, req Request, out chan<- event.Event) {
	prompt := BuildPrompt(req.Texts[0], req.Source, req.Target, req.Delimiter)

	full, err := p.client.Generate(ctx,
		ollama.GenerateRequest{Model: req.Model, Prompt: prompt},
		func(tok string) {
			emitTo(ctx, out, event.Event{Kind: event.Chunk, Index: 0, Text: tok})
		},
		p.logDecodeError,
	)
	if err != nil {
		if ctx.Err() == nil {
			emitTo(ctx, out, event.Errorf(event.Error, err))
		}
		return
	}
	emitTo(ctx, out, event.Event{Kind: event.Complete, Text: full})
}

// generateBlock fans out one call per fragment. A fragment failure does
// not cancel siblings already in flight, but fragments not yet started are
// skipped. The terminal event is block-error if any fragment failed,
// otherwise block-complete.
func (p *Remote) generateBlock(ctx context.Context, req Request, out chan<- event.Event) {
	var (
		failed    atomic.Bool
		errMu     sync.Mutex
		firstErr  error
		firstIdx  int
		g         errgroup.Group
	)
	g.SetLimit(p.concurrency)

	for i, text := range req.Texts {
		g.Go(func() error {
			if failed.Load() {
				return nil
			}

			prompt := BuildPrompt(text, req.Source, req.Target, "")
			full, err := p.client.Generate(ctx,
				ollama.GenerateRequest{Model: req.Model, Prompt: prompt},
				func(tok string) {
					emitTo(ctx, out, event.Event{Kind: event.Chunk, Index: i, Text: tok})
				},
				p.logDecodeError,
			)
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
					firstIdx = i
				}
				errMu.Unlock()
				failed.Store(true)
				return nil
			}

			emitTo(ctx, out, event.Event{Kind: event.BlockChunk, Index: i, Text: full})
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		return
	}
	if firstErr != nil {
		e := event.Errorf(event.BlockError, firstErr)
		e.Index = firstIdx
		emitTo(ctx, out, e)
		return
	}
	emitTo(ctx, out, event.Event{Kind: event.BlockComplete})
}

func (p *Remote) logDecodeError(err error) {
	p.logger.Warn("skipping malformed stream line", "err", err)
}
