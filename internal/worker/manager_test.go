package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okhotin/lingod/internal/event"
	"github.com/okhotin/lingod/internal/models"
)

type fakePipeline struct {
	model  string
	alive  atomic.Bool
	closed atomic.Bool
}

func newFakePipeline(model string) *fakePipeline {
	p := &fakePipeline{model: model}
	p.alive.Store(true)
	return p
}

func (p *fakePipeline) Generate(_ context.Context, _ Request, _ func(Message)) error { return nil }
func (p *fakePipeline) Alive() bool                                                 { return p.alive.Load() }
func (p *fakePipeline) Close() error {
	p.closed.Store(true)
	p.alive.Store(false)
	return nil
}

type fakeResolver struct {
	known map[string]bool
}

func (r *fakeResolver) Resolve(_ context.Context, name string) (models.Model, error) {
	if !r.known[name] {
		return models.Model{}, fmt.Errorf("%w: %s", models.ErrModelUnavailable, name)
	}
	return models.Model{Name: name, Path: "/models/" + name}, nil
}

// countingStart records starts and emits one load-progress sequence per
// start, like a real worker load does.
func countingStart(starts *atomic.Int32, failFirst bool) StartFunc {
	var calls atomic.Int32
	return func(_ context.Context, model models.Model, onProgress func(event.Event)) (Pipeline, error) {
		n := calls.Add(1)
		if failFirst && n == 1 {
			return nil, errors.New("spawn failed")
		}
		starts.Add(1)
		if onProgress != nil {
			onProgress(event.Event{Kind: event.Progress, Resource: model.Name, Percent: 50})
			onProgress(event.Event{Kind: event.Progress, Resource: model.Name, Percent: 100})
		}
		return newFakePipeline(model.Name), nil
	}
}

func newTestManager(starts *atomic.Int32, failFirst bool) *Manager {
	resolver := &fakeResolver{known: map[string]bool{"m1": true, "m2": true}}
	return NewManager(resolver, countingStart(starts, failFirst), nil)
}

func TestAcquire_CachedReuse(t *testing.T) {
	var starts atomic.Int32
	m := newTestManager(&starts, false)
	defer m.Close()
	ctx := context.Background()

	var firstProgress, secondProgress int
	l1, err := m.Acquire(ctx, "m1", func(event.Event) { firstProgress++ })
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l1.Release()

	l2, err := m.Acquire(ctx, "m1", func(event.Event) { secondProgress++ })
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	l2.Release()

	if got := starts.Load(); got != 1 {
		t.Errorf("starts = %d, want 1", got)
	}
	if firstProgress == 0 {
		t.Error("no load progress on first acquire")
	}
	if secondProgress != 0 {
		t.Errorf("cached reuse emitted %d progress events, want 0", secondProgress)
	}
	if l1.Pipeline() != l2.Pipeline() {
		t.Error("cached acquire returned a different pipeline")
	}
}

func TestAcquire_ModelSwapReloadsOnce(t *testing.T) {
	var starts atomic.Int32
	m := newTestManager(&starts, false)
	defer m.Close()
	ctx := context.Background()

	l1, err := m.Acquire(ctx, "m1", nil)
	if err != nil {
		t.Fatalf("Acquire(m1): %v", err)
	}
	old := l1.Pipeline().(*fakePipeline)
	l1.Release()

	l2, err := m.Acquire(ctx, "m2", nil)
	if err != nil {
		t.Fatalf("Acquire(m2): %v", err)
	}
	l2.Release()

	if !old.closed.Load() {
		t.Error("old worker not closed on model swap")
	}
	if got := starts.Load(); got != 2 {
		t.Errorf("starts = %d, want 2", got)
	}

	// Same model again: no third start.
	l3, err := m.Acquire(ctx, "m2", nil)
	if err != nil {
		t.Fatalf("Acquire(m2) again: %v", err)
	}
	l3.Release()
	if got := starts.Load(); got != 2 {
		t.Errorf("starts after cached reuse = %d, want 2", got)
	}
}

func TestAcquire_ModelUnavailable(t *testing.T) {
	var starts atomic.Int32
	m := newTestManager(&starts, false)
	defer m.Close()

	_, err := m.Acquire(context.Background(), "missing", nil)
	if !errors.Is(err, models.ErrModelUnavailable) {
		t.Errorf("err = %v, want ErrModelUnavailable", err)
	}
	if starts.Load() != 0 {
		t.Error("worker started despite unresolvable model")
	}
}

func TestAcquire_StartFailureThenRetry(t *testing.T) {
	var starts atomic.Int32
	m := newTestManager(&starts, true)
	defer m.Close()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "m1", nil); err == nil {
		t.Fatal("first Acquire succeeded, want spawn failure")
	}

	// The cache was reset; a caller-driven retry starts cleanly.
	l, err := m.Acquire(ctx, "m1", nil)
	if err != nil {
		t.Fatalf("retry Acquire: %v", err)
	}
	l.Release()
	if starts.Load() != 1 {
		t.Errorf("successful starts = %d, want 1", starts.Load())
	}
}

func TestAcquire_SwapWaitsForLeases(t *testing.T) {
	var starts atomic.Int32
	m := newTestManager(&starts, false)
	defer m.Close()
	ctx := context.Background()

	l1, err := m.Acquire(ctx, "m1", nil)
	if err != nil {
		t.Fatalf("Acquire(m1): %v", err)
	}

	swapped := make(chan error, 1)
	go func() {
		l, err := m.Acquire(ctx, "m2", nil)
		if err == nil {
			l.Release()
		}
		swapped <- err
	}()

	select {
	case err := <-swapped:
		t.Fatalf("swap finished while lease held (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	l1.Release()
	select {
	case err := <-swapped:
		if err != nil {
			t.Fatalf("swap after release: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("swap did not proceed after lease release")
	}
}

func TestAcquire_DeadWorkerRestarted(t *testing.T) {
	var starts atomic.Int32
	m := newTestManager(&starts, false)
	defer m.Close()
	ctx := context.Background()

	l1, err := m.Acquire(ctx, "m1", nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l1.Pipeline().(*fakePipeline).alive.Store(false) // simulate crash
	l1.Release()

	l2, err := m.Acquire(ctx, "m1", nil)
	if err != nil {
		t.Fatalf("Acquire after crash: %v", err)
	}
	l2.Release()
	if starts.Load() != 2 {
		t.Errorf("starts = %d, want 2 (restart after crash)", starts.Load())
	}
}

func TestAcquire_Closed(t *testing.T) {
	var starts atomic.Int32
	m := newTestManager(&starts, false)
	m.Close()
	if _, err := m.Acquire(context.Background(), "m1", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
