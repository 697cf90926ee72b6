package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meridian.club/internal/obs"
)

// Appender is the synchronous store the dispatcher drains into.
type Appender interface {
	Append(ctx context.Context, evt Event) (Event, error)
}

// DispatcherConfig sizes the asynchronous recorder.
type DispatcherConfig struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

type job struct {
	ctx context.Context
	evt Event
}

// Dispatcher is a non-blocking Recorder. Events are queued and written by
// background workers; a full queue, a closed dispatcher or a failed write
// diverts the event to the fallback log instead of stalling the caller.
type Dispatcher struct {
	appender Appender
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// NewDispatcher starts cfg.Workers goroutines draining into appender.
func NewDispatcher(appender Appender, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	d := &Dispatcher{
		appender: appender,
		timeout:  cfg.WriteTimeout,
		logger:   obs.Resolve(cfg.Logger),
		queue:    make(chan job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Record enqueues evt without blocking.
func (d *Dispatcher) Record(ctx context.Context, evt Event) {
	if evt.Metadata.Timestamp.IsZero() {
		evt.Metadata.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		LogFallback(ctx, d.logger, evt, "closed", ErrClosed)
		return
	}
	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), evt: evt.clone()}:
	default:
		LogFallback(ctx, d.logger, evt, "queue_full", nil)
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		d.write(j)
	}
}

// write appends one queued event. A panicking appender costs the event, not
// the worker.
func (d *Dispatcher) write(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			LogFallback(j.ctx, d.logger, j.evt, "append_panic", fmt.Errorf("%v", r))
		}
	}()
	if _, err := d.appender.Append(ctx, j.evt); err != nil {
		LogFallback(j.ctx, d.logger, j.evt, "append_failed", err)
	}
}

// Close stops accepting events and waits for queued ones to be written or
// for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
