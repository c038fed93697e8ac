package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/okhotin/lingod/internal/event"
	"github.com/okhotin/lingod/internal/models"
)

// ErrClosed is returned by Acquire after the manager has shut down.
var ErrClosed = errors.New("worker: manager closed")

// Pipeline is the loaded-worker surface the manager hands out.
type Pipeline interface {
	Generate(ctx context.Context, req Request, onMessage func(Message)) error
	Alive() bool
	Close() error
}

var _ Pipeline = (*Handle)(nil)

// ModelResolver resolves a model name to local weights.
type ModelResolver interface {
	Resolve(ctx context.Context, name string) (models.Model, error)
}

// StartFunc spawns a worker and loads the given model into it.
type StartFunc func(ctx context.Context, model models.Model, onProgress func(event.Event)) (Pipeline, error)

// Spawn returns the production StartFunc: start the configured worker
// process and load the model, forwarding load progress.
func Spawn(opts Options) StartFunc {
	return func(ctx context.Context, model models.Model, onProgress func(event.Event)) (Pipeline, error) {
		h, err := Start(opts)
		if err != nil {
			return nil, err
		}
		if err := h.Load(ctx, model.Path, onProgress); err != nil {
			h.Close()
			return nil, err
		}
		return h, nil
	}
}

// Manager caches a single worker pipeline across requests. At most one
// worker process is live at a time; requesting a different model tears the
// cached worker down and replaces it. A swap is exclusive with in-flight
// requests: it waits until every lease on the current worker is released.
type Manager struct {
	resolver ModelResolver
	start    StartFunc
	logger   *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	pipe   Pipeline
	model  string
	leases int
	closed bool
}

// NewManager returns a Manager using start to create pipelines.
func NewManager(resolver ModelResolver, start StartFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{resolver: resolver, start: start, logger: logger}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Lease is a borrowed reference to the cached pipeline. It must be
// released when the request settles; a model swap waits for all leases.
type Lease struct {
	m    *Manager
	pipe Pipeline
	once sync.Once
}

// Pipeline returns the leased worker pipeline.
func (l *Lease) Pipeline() Pipeline { return l.pipe }

// Release returns the lease. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.mu.Lock()
		l.m.leases--
		l.m.mu.Unlock()
		l.m.cond.Broadcast()
	})
}

// Acquire returns a lease on a pipeline loaded with the named model.
//
// A cached pipeline with the same model is reused immediately with no
// reload. A different model (or a dead worker) triggers a teardown and a
// fresh start + load, with progress forwarded to onProgress. The model is
// resolved first; an unresolvable model fails fast with
// models.ErrModelUnavailable. Start or load failures leave the cache
// empty so the next call retries cleanly.
func (m *Manager) Acquire(ctx context.Context, model string, onProgress func(event.Event)) (*Lease, error) {
	stop := context.AfterFunc(ctx, m.cond.Broadcast)
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if m.closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m.pipe != nil && m.model == model && m.pipe.Alive() {
			m.leases++
			return &Lease{m: m, pipe: m.pipe}, nil
		}
		if m.pipe == nil || m.leases == 0 {
			break
		}
		// A swap must not race in-flight requests on the old worker.
		m.cond.Wait()
	}

	if m.pipe != nil {
		m.logger.Info("replacing cached worker", "old_model", m.model, "new_model", model)
		m.pipe.Close()
		m.pipe = nil
		m.model = ""
	}

	resolved, err := m.resolver.Resolve(ctx, model)
	if err != nil {
		return nil, err
	}

	pipe, err := m.start(ctx, resolved, onProgress)
	if err != nil {
		return nil, fmt.Errorf("starting worker for %s: %w", model, err)
	}

	m.pipe = pipe
	m.model = model
	m.leases = 1
	m.logger.Info("worker ready", "model", model)
	return &Lease{m: m, pipe: pipe}, nil
}

// Close tears down the cached worker. Subsequent Acquires fail with
// ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.pipe != nil {
		m.pipe.Close()
		m.pipe = nil
	}
	m.cond.Broadcast()
	return nil
}
