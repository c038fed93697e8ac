package provider

import (
	"context"
	"log/slog"

	"github.com/okhotin/lingod/internal/event"
	"github.com/okhotin/lingod/internal/worker"
)

// Local translates through the managed worker subprocess. Every message
// the worker emits for the request is relayed to the caller unchanged;
// the worker serializes work, so fragments are not parallelized here.
type Local struct {
	manager *worker.Manager
	logger  *slog.Logger
}

// NewLocal returns a Local provider backed by the worker manager.
func NewLocal(manager *worker.Manager, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{manager: manager, logger: logger}
}

// Generate implements Provider.
func (p *Local) Generate(ctx context.Context, req Request) (<-chan event.Event, error) {
	out := make(chan event.Event, 16)

	go func() {
		defer close(out)

		emit := func(e event.Event) {
			select {
			case out <- e:
			case <-ctx.Done():
			}
		}
		fail := func(err error) {
			kind := event.Error
			if req.Block {
				kind = event.BlockError
			}
			emit(event.Errorf(kind, err))
		}

		lease, err := p.manager.Acquire(ctx, req.Model, emit)
		if err != nil {
			if ctx.Err() == nil {
				fail(err)
			}
			return
		}
		defer lease.Release()

		// The delimiter rides along for every shape: a combined prompt
		// needs it in the worker's preserve-the-separator instruction.
		wreq := worker.Request{
			Source:    req.Source,
			Target:    req.Target,
			Delimiter: req.Delimiter,
		}
		if req.Block {
			wreq.Texts = req.Texts
			wreq.Block = true
		} else {
			wreq.Text = req.Texts[0]
		}

		err = lease.Pipeline().Generate(ctx, wreq, func(msg worker.Message) {
			e, ok := msg.Event()
			if !ok {
				p.logger.Debug("dropping unknown worker status", "status", msg.Status)
				return
			}
			emit(e)
		})
		if err != nil && ctx.Err() == nil {
			fail(err)
		}
	}()

	return out, nil
}
