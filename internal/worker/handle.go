package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okhotin/lingod/internal/event"
	"github.com/okhotin/lingod/internal/ndjson"
)

var (
	// ErrWorkerStart means the worker process could not be spawned.
	ErrWorkerStart = errors.New("worker: start failed")
	// ErrWorkerCrash means the worker process exited while requests were
	// outstanding.
	ErrWorkerCrash = errors.New("worker: process exited unexpectedly")
)

// Options configures a worker process.
type Options struct {
	// Command is the argv of the worker executable.
	Command []string
	// Env entries appended to the inherited environment.
	Env    []string
	Logger *slog.Logger
}

// Handle owns one live worker process. It serializes writes to the
// worker's stdin, routes stdout messages to the request that issued them,
// and allows one outstanding generate exchange at a time (the worker
// itself processes one message at a time).
type Handle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	writeMu sync.Mutex // stdin is a shared line-oriented channel
	genMu   sync.Mutex // one outstanding generate exchange

	mu      sync.Mutex
	pending map[string]chan Message
	died    bool
	diedErr error

	done chan struct{}
}

// Start spawns the worker process and begins reading its stdout.
func Start(opts Options) (*Handle, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("%w: no worker command configured", ErrWorkerStart)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Env = append(os.Environ(), opts.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerStart, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerStart, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerStart, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerStart, err)
	}

	h := &Handle{
		cmd:     cmd,
		stdin:   stdin,
		logger:  logger,
		pending: make(map[string]chan Message),
		done:    make(chan struct{}),
	}

	go h.logStderr(stderr)
	go h.readLoop(stdout)

	logger.Debug("worker started", "pid", cmd.Process.Pid)
	return h, nil
}

func (h *Handle) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		h.logger.Warn("worker stderr", "line", sc.Text())
	}
}

// readLoop decodes worker stdout until the process exits, then fails all
// pending exchanges.
func (h *Handle) readLoop(stdout io.Reader) {
	dec := ndjson.New(h.dispatch, func(err error) {
		h.logger.Warn("worker emitted malformed line", "err", err)
	})
	_, copyErr := io.Copy(dec, stdout)
	dec.Flush()

	waitErr := h.cmd.Wait()

	cause := waitErr
	if cause == nil {
		cause = copyErr
	}
	h.fail(cause)
	close(h.done)
}

func (h *Handle) dispatch(msg Message) {
	h.mu.Lock()
	ch, ok := h.pending[msg.ID]
	h.mu.Unlock()
	if !ok {
		h.logger.Debug("worker message for unknown request", "id", msg.ID, "status", msg.Status)
		return
	}
	ch <- msg
}

// fail marks the handle dead and closes all pending exchange channels.
// Runs on the readLoop goroutine after dispatching has stopped, so a close
// can never race a dispatch send.
func (h *Handle) fail(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.died = true
	h.diedErr = cause
	for id, ch := range h.pending {
		close(ch)
		delete(h.pending, id)
	}
}

// Alive reports whether the worker process is still running.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.died
}

func (h *Handle) crashErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.diedErr != nil {
		return fmt.Errorf("%w: %v", ErrWorkerCrash, h.diedErr)
	}
	return ErrWorkerCrash
}

func (h *Handle) register(id string) (<-chan Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.died {
		return nil, h.crashErrLocked()
	}
	ch := make(chan Message, 64)
	h.pending[id] = ch
	return ch, nil
}

func (h *Handle) crashErrLocked() error {
	if h.diedErr != nil {
		return fmt.Errorf("%w: %v", ErrWorkerCrash, h.diedErr)
	}
	return ErrWorkerCrash
}

func (h *Handle) unregister(id string) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

func (h *Handle) write(req Request) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := json.NewEncoder(h.stdin).Encode(req); err != nil {
		return fmt.Errorf("writing to worker: %w", err)
	}
	return nil
}

// Load instructs the worker to load the model at path, forwarding load
// progress to onProgress until the worker reports completion.
func (h *Handle) Load(ctx context.Context, path string, onProgress func(event.Event)) error {
	id := uuid.NewString()
	ch, err := h.register(id)
	if err != nil {
		return err
	}
	defer h.unregister(id)

	if err := h.write(Request{ID: id, Op: opLoad, Model: path}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			h.write(Request{ID: id, Op: opCancel})
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return h.crashErr()
			}
			switch msg.Status {
			case "progress":
				if onProgress != nil {
					if e, ok := msg.Event(); ok {
						onProgress(e)
					}
				}
			case "complete":
				return nil
			case "error":
				return fmt.Errorf("worker: loading model: %s", msg.Error)
			}
		}
	}
}

// Generate sends one translation request and relays every worker message
// for it, unchanged, to onMessage until the terminal message. Only one
// Generate runs at a time per handle. Cancelling ctx tells the worker to
// stop; no messages are relayed after cancellation is observed.
func (h *Handle) Generate(ctx context.Context, req Request, onMessage func(Message)) error {
	h.genMu.Lock()
	defer h.genMu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Op = opGenerate

	ch, err := h.register(req.ID)
	if err != nil {
		return err
	}
	defer h.unregister(req.ID)

	if err := h.write(req); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			h.write(Request{ID: req.ID, Op: opCancel})
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return h.crashErr()
			}
			onMessage(msg)
			if msg.Terminal() {
				return nil
			}
		}
	}
}

// Close shuts the worker down: stdin is closed so the worker exits on
// EOF, with a kill after a grace period.
func (h *Handle) Close() error {
	h.stdin.Close()
	select {
	case <-h.done:
	case <-time.After(3 * time.Second):
		h.cmd.Process.Kill()
		<-h.done
	}
	return nil
}
