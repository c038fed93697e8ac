// Package translator orchestrates translation requests: it selects the
// translation mode, drives a provider, reassembles fragment results, and
// exposes one event stream per request.
package translator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/okhotin/lingod/internal/chunk"
	"github.com/okhotin/lingod/internal/event"
	"github.com/okhotin/lingod/internal/provider"
)

// Mode selects the translation strategy.
type Mode string

const (
	// ModeSimple translates a single fragment.
	ModeSimple Mode = "simple"
	// ModeBlock translates fragments independently, isolating failures
	// per fragment.
	ModeBlock Mode = "block"
	// ModeContextual combines fragments into one prompt so the model
	// sees cross-fragment context, and splits the combined response.
	ModeContextual Mode = "contextual"
)

// ErrBadRequest is returned for structurally invalid requests before any
// work is dispatched.
var ErrBadRequest = errors.New("translator: invalid request")

// Request is a caller-facing translation request. Fragment order is
// stable and is the sole correlation key between request and result.
type Request struct {
	Fragments []string
	Source    string
	Target    string
	Mode      Mode
	Model     string
	// Delimiter overrides the default fragment separator. Leave empty
	// unless the caller knows the default collides with its text.
	Delimiter string
}

// Job is one dispatched request. Events carries the request's status
// stream; it is closed after the single terminal event.
type Job struct {
	ID     string
	Events <-chan event.Event
}

// History records finished translations and serves cached ones. A nil
// History disables both.
type History interface {
	RecordTranslation(ctx context.Context, rec Record) error
	CachedTranslation(ctx context.Context, model, source, target, text string) (string, bool)
	CacheTranslation(ctx context.Context, model, source, target, text, translated string) error
}

// Record is the persisted outcome of one request.
type Record struct {
	RequestID string
	Mode      Mode
	Model     string
	Source    string
	Target    string
	Status    string
	Error     string
	Fragments []FragmentResult
}

// FragmentResult pairs a fragment index with its source and translated
// text.
type FragmentResult struct {
	Index      int
	SourceText string
	Translated string
}

// Coordinator fans requests out to a provider and multiplexes results
// back. Safe for concurrent use.
type Coordinator struct {
	provider provider.Provider
	history  History
	bus      *event.Bus
	logger   *slog.Logger
}

// New returns a Coordinator. history and bus may be nil.
func New(p provider.Provider, history History, bus *event.Bus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{provider: p, history: history, bus: bus, logger: logger}
}

// Translate validates and dispatches a request, returning its job. The
// returned error covers only validation and dispatch; runtime failures
// arrive as terminal error events on the job's stream.
func (c *Coordinator) Translate(ctx context.Context, req Request) (*Job, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	stream := event.NewStream(32)
	job := &Job{ID: id, Events: stream.C}

	c.logger.Info("translation dispatched",
		"request_id", id, "mode", req.Mode, "model", req.Model,
		"fragments", len(req.Fragments), "source", req.Source, "target", req.Target)

	go func() {
		switch req.Mode {
		case ModeSimple:
			c.runSimple(ctx, id, req, stream)
		case ModeBlock:
			c.runBlock(ctx, id, req, stream)
		case ModeContextual:
			c.runContextual(ctx, id, req, stream)
		}
		// Every request ends in exactly one of: a terminal event, or a
		// cancelled stream closed without further events.
		if !stream.Settled() {
			if ctx.Err() != nil {
				stream.Abort()
			} else {
				kind := event.Error
				if req.Mode == ModeBlock {
					kind = event.BlockError
				}
				c.publish(id, stream, event.Errorf(kind, errors.New("translator: request ended without a result")))
			}
		}
	}()

	return job, nil
}

func validate(req Request) error {
	switch req.Mode {
	case ModeSimple:
		if len(req.Fragments) != 1 {
			return fmt.Errorf("%w: simple mode takes exactly one fragment, got %d", ErrBadRequest, len(req.Fragments))
		}
	case ModeBlock, ModeContextual:
		if len(req.Fragments) == 0 {
			return fmt.Errorf("%w: no fragments", ErrBadRequest)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrBadRequest, req.Mode)
	}

	if req.Target == "" {
		return fmt.Errorf("%w: target language required", ErrBadRequest)
	}
	for _, f := range req.Fragments {
		if strings.TrimSpace(f) != "" {
			return nil
		}
	}
	return chunk.ErrEmptyInput
}

// publish delivers e to the request's stream and mirrors it on the bus.
func (c *Coordinator) publish(id string, stream *event.Stream, e event.Event) {
	if stream.Publish(e) && c.bus != nil {
		c.bus.Publish(id, e)
	}
}

func (c *Coordinator) runSimple(ctx context.Context, id string, req Request, stream *event.Stream) {
	text := req.Fragments[0]

	if c.history != nil {
		if cached, ok := c.history.CachedTranslation(ctx, req.Model, req.Source, req.Target, text); ok {
			c.logger.Debug("cache hit", "request_id", id)
			c.publish(id, stream, event.Event{Kind: event.Complete, Text: cached})
			return
		}
	}

	ch, err := c.provider.Generate(ctx, provider.Request{
		Model: req.Model, Texts: []string{text},
		Source: req.Source, Target: req.Target,
	})
	if err != nil {
		c.publish(id, stream, event.Errorf(event.Error, err))
		return
	}

	var terminal *event.Event
	for e := range ch {
		if e.Kind.Terminal() {
			terminal = &e
			continue
		}
		c.publish(id, stream, e)
	}
	if terminal == nil {
		return
	}

	// Record before the terminal event so a caller observing settlement
	// sees consistent history.
	if terminal.Kind == event.Complete {
		c.record(ctx, id, req, "complete", "", []FragmentResult{
			{Index: 0, SourceText: text, Translated: terminal.Text},
		})
		if c.history != nil {
			if err := c.history.CacheTranslation(ctx, req.Model, req.Source, req.Target, text, terminal.Text); err != nil {
				c.logger.Warn("caching translation", "request_id", id, "err", err)
			}
		}
	}
	c.publish(id, stream, *terminal)
}

func (c *Coordinator) runBlock(ctx context.Context, id string, req Request, stream *event.Stream) {
	codec := chunk.New(req.Delimiter)

	ch, err := c.provider.Generate(ctx, provider.Request{
		Model: req.Model, Texts: req.Fragments,
		Source: req.Source, Target: req.Target,
		Delimiter: codec.Delimiter(), Block: true,
	})
	if err != nil {
		c.publish(id, stream, event.Errorf(event.BlockError, err))
		return
	}

	partial := make(map[int]string, len(req.Fragments))
	var terminal *event.Event
	for e := range ch {
		if e.Kind == event.BlockChunk {
			partial[e.Index] = e.Text
		}
		if e.Kind.Terminal() {
			terminal = &e
			continue
		}
		c.publish(id, stream, e)
	}
	if terminal == nil {
		return
	}

	results := make([]FragmentResult, 0, len(partial))
	for idx, text := range partial {
		results = append(results, FragmentResult{Index: idx, SourceText: req.Fragments[idx], Translated: text})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	switch terminal.Kind {
	case event.BlockComplete:
		c.record(ctx, id, req, "complete", "", results)
	case event.BlockError:
		c.record(ctx, id, req, "error", terminal.Message, results)
	}
	c.publish(id, stream, *terminal)
}

func (c *Coordinator) runContextual(ctx context.Context, id string, req Request, stream *event.Stream) {
	codec := chunk.New(req.Delimiter)

	// Combine drops blank fragments, so indexes below refer to the
	// non-blank sources.
	sources := make([]string, 0, len(req.Fragments))
	for _, f := range req.Fragments {
		if strings.TrimSpace(f) != "" {
			sources = append(sources, f)
		}
	}

	combined, err := codec.Combine(sources)
	if err != nil {
		c.publish(id, stream, event.Errorf(event.Error, err))
		return
	}

	ch, err := c.provider.Generate(ctx, provider.Request{
		Model: req.Model, Texts: []string{combined},
		Source: req.Source, Target: req.Target,
		Delimiter: codec.Delimiter(),
	})
	if err != nil {
		c.publish(id, stream, event.Errorf(event.Error, err))
		return
	}

	var full string
	for e := range ch {
		switch e.Kind {
		case event.Complete:
			full = e.Text
			// Held back: the combined response must reconcile before the
			// request may settle successfully.
			continue
		case event.Error:
			c.record(ctx, id, req, "error", e.Message, nil)
			c.publish(id, stream, e)
			return
		}
		c.publish(id, stream, e)
	}
	if full == "" {
		return
	}

	fragments, merged, err := codec.Reconcile(len(sources), codec.Split(full))
	if err != nil {
		// Context-sharing makes fragments non-independent: a partial
		// contextual result is not trustworthy, so the request fails.
		wrapped := fmt.Errorf("%w: expected %d fragments, got %d", err, len(sources), len(codec.Split(full)))
		c.record(ctx, id, req, "error", wrapped.Error(), nil)
		c.publish(id, stream, event.Errorf(event.Error, wrapped))
		return
	}
	if merged {
		c.logger.Warn("reconciled extra delimiters in response", "request_id", id, "expected", len(sources))
	}

	results := make([]FragmentResult, len(fragments))
	for i, text := range fragments {
		results[i] = FragmentResult{Index: i, SourceText: sources[i], Translated: text}
		c.publish(id, stream, event.Event{Kind: event.Chunk, Index: i, Text: text})
	}
	c.record(ctx, id, req, "complete", "", results)
	// The reserved delimiter is transport framing; callers get the
	// reconciled fragments, never the raw joined response.
	c.publish(id, stream, event.Event{Kind: event.Complete, Text: strings.Join(fragments, "\n\n")})
}

func (c *Coordinator) record(ctx context.Context, id string, req Request, status, errMsg string, results []FragmentResult) {
	if c.history == nil {
		return
	}
	rec := Record{
		RequestID: id,
		Mode:      req.Mode,
		Model:     req.Model,
		Source:    req.Source,
		Target:    req.Target,
		Status:    status,
		Error:     errMsg,
		Fragments: results,
	}
	if err := c.history.RecordTranslation(ctx, rec); err != nil {
		c.logger.Warn("recording translation", "request_id", id, "err", err)
	}
}
