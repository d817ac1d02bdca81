package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harvi-app/study-engine/internal/config"
)

// ErrCallTimeout is returned when a submitted task does not answer within
// the configured call timeout. The task may still run to completion on the
// worker; only the caller's wait is abandoned.
var ErrCallTimeout = errors.New("worker call timed out")

// ErrUnknownTask is returned for task kinds nothing registered a handler for.
var ErrUnknownTask = errors.New("no handler registered for task kind")

// Handler executes one task kind. Handlers run on the worker goroutine when
// the dispatcher is running and inline in the caller otherwise, so they must
// not assume either.
type Handler func(ctx context.Context, payload any) (any, error)

type taskIDKey struct{}

// TaskID returns the correlation id assigned to the running task, or "" when
// the handler was invoked outside the dispatcher.
func TaskID(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}

type result struct {
	value any
	err   error
}

type task struct {
	id      string
	kind    string
	payload any
	ctx     context.Context
	handler Handler
	reply   chan result
}

// Dispatcher moves storage writes and statistics work off the interactive
// path. One worker goroutine consumes a bounded queue; each submission gets
// a correlation id and, for synchronous calls, a bounded wait. A stopped
// dispatcher degrades to running the same handlers in the caller's
// goroutine.
type Dispatcher struct {
	cfg    config.WorkerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	tasks    chan task
	quit     chan struct{}
	done     chan struct{}
	running  bool
}

// NewDispatcher builds a stopped dispatcher. Register handlers, then Start.
func NewDispatcher(cfg config.WorkerConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		logger:   logger.With("component", "worker"),
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a task kind, replacing any previous binding.
// Registration happens at composition time, before Start.
func (d *Dispatcher) Register(kind string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = handler
}

// Start launches the worker goroutine. Starting a running dispatcher is a
// no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	size := d.cfg.QueueSize
	if size < 1 {
		size = 1
	}
	d.tasks = make(chan task, size)
	d.quit = make(chan struct{})
	d.done = make(chan struct{})
	d.running = true
	go d.loop(d.tasks, d.quit, d.done)
	d.logger.Info("worker started", "queue_size", size, "call_timeout", d.cfg.CallTimeout)
}

// Stop drains the queue and waits for the worker goroutine to exit. Tasks
// submitted afterwards run synchronously in their caller.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.quit)
	done := d.done
	d.mu.Unlock()

	<-done
	d.logger.Info("worker stopped")
}

// Submit runs a task and waits for its answer, at most CallTimeout. When the
// dispatcher is stopped the handler executes inline and the timeout does not
// apply.
func (d *Dispatcher) Submit(ctx context.Context, kind string, payload any) (any, error) {
	handler, err := d.handlerFor(kind)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	running, tasks := d.running, d.tasks
	d.mu.RUnlock()

	id := uuid.New().String()
	if !running {
		return handler(context.WithValue(ctx, taskIDKey{}, id), payload)
	}

	t := task{
		id:      id,
		kind:    kind,
		payload: payload,
		ctx:     ctx,
		handler: handler,
		reply:   make(chan result, 1),
	}

	timer := time.NewTimer(d.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case tasks <- t:
	case <-timer.C:
		return nil, fmt.Errorf("submitting %s task %s: %w", kind, id, ErrCallTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-t.reply:
		return res.value, res.err
	case <-timer.C:
		return nil, fmt.Errorf("waiting for %s task %s: %w", kind, id, ErrCallTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitAsync runs a task without waiting for its outcome. Failures are
// logged, never returned. The task is detached from the caller's
// cancellation so a finished request cannot abort a progress save; when the
// queue is full or the dispatcher is stopped the handler runs inline
// instead of being dropped.
func (d *Dispatcher) SubmitAsync(ctx context.Context, kind string, payload any) {
	handler, err := d.handlerFor(kind)
	if err != nil {
		d.logger.Warn("async task rejected", "task", kind, "error", err)
		return
	}

	d.mu.RLock()
	running, tasks := d.running, d.tasks
	d.mu.RUnlock()

	id := uuid.New().String()
	detached := context.WithValue(context.WithoutCancel(ctx), taskIDKey{}, id)
	if running {
		select {
		case tasks <- task{id: id, kind: kind, payload: payload, ctx: detached, handler: handler}:
			return
		default:
			// Queue full. Running inline keeps the save instead of dropping it.
		}
	}
	if _, err := handler(detached, payload); err != nil {
		d.logger.Warn("background task failed", "task", kind, "task_id", id, "error", err)
	}
}

func (d *Dispatcher) handlerFor(kind string) (Handler, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	handler, ok := d.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, kind)
	}
	return handler, nil
}

func (d *Dispatcher) loop(tasks chan task, quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case t := <-tasks:
			d.execute(t)
		case <-quit:
			for {
				select {
				case t := <-tasks:
					d.execute(t)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) execute(t task) {
	start := time.Now()
	ctx := context.WithValue(t.ctx, taskIDKey{}, t.id)
	value, err := func() (v any, e error) {
		defer func() {
			if r := recover(); r != nil {
				e = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return t.handler(ctx, t.payload)
	}()

	if t.reply != nil {
		t.reply <- result{value: value, err: err}
	} else if err != nil {
		d.logger.Warn("background task failed", "task", t.kind, "task_id", t.id, "error", err)
	}
	d.logger.Debug("task executed", "task", t.kind, "task_id", t.id, "duration", time.Since(start))
}
