// Package dispatch runs the per-process poll cycle over the shared mailbox:
// snapshot, partition into owned and pass-through, route owned jobs to their
// handlers, write back what remains plus whatever the handlers derived.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cubbyland/NyxFan/internal/mailbox"
)

type Disposition int

const (
	// Drop consumes the job: it has been fully acted upon.
	Drop Disposition = iota
	// Retain keeps the original record unchanged for the next cycle. This
	// is also the sole retry mechanism: a handler that cannot resolve the
	// subject yet retains and tries again next poll.
	Retain
)

type Result struct {
	Disposition Disposition
	Derived     []mailbox.Job
}

func Dropped(derived ...mailbox.Job) Result {
	return Result{Disposition: Drop, Derived: derived}
}

func Retained(derived ...mailbox.Job) Result {
	return Result{Disposition: Retain, Derived: derived}
}

type Handler interface {
	Handle(ctx context.Context, job mailbox.Job) (Result, error)
}

type HandlerFunc func(ctx context.Context, job mailbox.Job) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, job mailbox.Job) (Result, error) {
	return f(ctx, job)
}

type Dispatcher struct {
	store    mailbox.Store
	handlers map[mailbox.Kind]Handler
	logf     func(format string, args ...any)

	// mu serializes mailbox mutation within the process: a cycle holds it
	// for its whole read-modify-write span, and out-of-cycle writers go
	// through Locked so the cycle's snapshot write-back cannot erase them.
	mu sync.Mutex
}

type Option func(*Dispatcher)

func WithLogger(logf func(format string, args ...any)) Option {
	return func(d *Dispatcher) {
		d.logf = logf
	}
}

func New(store mailbox.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		handlers: map[mailbox.Kind]Handler{},
		logf:     log.Printf,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Register(kind mailbox.Kind, h Handler) {
	if kind == "" || h == nil {
		return
	}
	d.handlers[kind] = h
}

// Cycle runs one poll: read a snapshot, keep every job this process does not
// own (or cannot parse) in its original position, hand the rest to their
// handlers, append derived jobs, write the result back. A failing handler
// retains its job and never aborts the rest of the cycle.
func (d *Dispatcher) Cycle(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot, err := d.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("read mailbox: %w", err)
	}

	kept := make([]mailbox.Job, 0, len(snapshot))
	var derived []mailbox.Job
	for _, job := range snapshot {
		handler, owned := d.handlers[job.Kind]
		if !owned || job.Malformed() {
			kept = append(kept, job)
			continue
		}
		result := d.handle(ctx, handler, job)
		if result.Disposition == Retain {
			kept = append(kept, job)
		}
		derived = append(derived, result.Derived...)
	}
	// Derived jobs are appended, so relative order across kinds is not a
	// guarantee handlers may lean on.
	kept = append(kept, derived...)

	if err := d.store.Write(ctx, kept); err != nil {
		return fmt.Errorf("write mailbox: %w", err)
	}
	return nil
}

// Locked runs fn while no cycle is in flight. Every mailbox mutation made
// outside a cycle (enqueue on unlock confirm, join announcements, dashboard
// pulls) must go through here, or a concurrent cycle's whole-snapshot
// write-back can silently erase it.
func (d *Dispatcher) Locked(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn()
}

func (d *Dispatcher) handle(ctx context.Context, handler Handler, job mailbox.Job) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logf("[dispatch] handler for %s panicked, job %s retained: %v", job.Kind, job.ID, r)
			result = Retained()
		}
	}()
	result, err := handler.Handle(ctx, job)
	if err != nil {
		d.logf("[dispatch] handler for %s failed, job %s retained: %v", job.Kind, job.ID, err)
		return Retained()
	}
	return result
}

// Run polls at the given interval until the context ends. Cycles never
// overlap: ticks and wake signals that arrive mid-cycle coalesce into at
// most one pending run. The wake channel (usually a mailbox watcher) may be
// nil.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, wake <-chan struct{}) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
		if err := d.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logf("[dispatch] cycle failed: %v", err)
		}
	}
}
