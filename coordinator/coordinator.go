// Package coordinator schedules every access to analysis engine state onto one
// of three execution contexts: shared (many readers), exclusive (one writer,
// no readers) and affine (the single UI-affine thread of the engine).
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/draftcode/ijaas/errdefs"
	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"
)

type Mode int

const (
	none Mode = iota
	Shared
	Exclusive
	Affine
)

func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	case Affine:
		return "affine"
	default:
		return "none"
	}
}

// ErrIllegalNesting is returned when an operation asks for a context that
// cannot be entered from the one it is already running in.
var ErrIllegalNesting = &errdefs.Error{Kind: errdefs.AnalysisFailure, Message: "illegal coordinator nesting"}

// Op is the unit of work run by a Coordinator. The ctx passed to it carries
// the held mode; nested calls must pass it along.
type Op func(ctx context.Context) error

type Coordinator interface {
	RunShared(ctx context.Context, op Op) error
	RunExclusive(ctx context.Context, op Op) error
	RunAffine(ctx context.Context, op Op) error
}

// maxWeight bounds the number of concurrent shared holders. Exclusive holders
// acquire all of it.
const maxWeight = 1 << 20

type heldKey struct {
	l *Lock
}

// Lock is the Coordinator used in production.
type Lock struct {
	log logr.Logger
	sem *semaphore.Weighted

	affine    chan *affineTask
	stop      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

type affineTask struct {
	ctx  context.Context
	op   Op
	done chan error
}

var _ Coordinator = &Lock{}

func New(log logr.Logger) *Lock {
	return &Lock{
		log:    log.WithName("coordinator"),
		sem:    semaphore.NewWeighted(maxWeight),
		affine: make(chan *affineTask),
		stop:   make(chan struct{}),
	}
}

// Close stops the affine goroutine. Pending RunAffine calls fail.
func (l *Lock) Close() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

func (l *Lock) held(ctx context.Context) Mode {
	if m, ok := ctx.Value(heldKey{l}).(Mode); ok {
		return m
	}
	return none
}

func (l *Lock) with(ctx context.Context, m Mode) context.Context {
	return context.WithValue(ctx, heldKey{l}, m)
}

func (l *Lock) RunShared(ctx context.Context, op Op) error {
	switch l.held(ctx) {
	case Shared, Exclusive:
		return run(ctx, Shared, op)
	case Affine:
		return l.illegal(Affine, Shared)
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return acquireErr(err, Shared)
	}
	defer l.sem.Release(1)
	return run(l.with(ctx, Shared), Shared, op)
}

func (l *Lock) RunExclusive(ctx context.Context, op Op) error {
	switch held := l.held(ctx); held {
	case Exclusive:
		return run(ctx, Exclusive, op)
	case Shared, Affine:
		return l.illegal(held, Exclusive)
	}
	if err := l.sem.Acquire(ctx, maxWeight); err != nil {
		return acquireErr(err, Exclusive)
	}
	defer l.sem.Release(maxWeight)
	return run(l.with(ctx, Exclusive), Exclusive, op)
}

// RunAffine runs op on the affine goroutine while holding a shared weight, so
// it never overlaps an exclusive holder. If ctx is done first, RunAffine
// returns at once and the result of op, if it still runs, is dropped.
func (l *Lock) RunAffine(ctx context.Context, op Op) error {
	switch held := l.held(ctx); held {
	case Affine:
		return run(ctx, Affine, op)
	case Shared, Exclusive:
		return l.illegal(held, Affine)
	}
	l.startOnce.Do(func() {
		go l.affineLoop()
	})
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return acquireErr(err, Affine)
	}
	task := &affineTask{
		ctx:  l.with(ctx, Affine),
		op:   op,
		done: make(chan error, 1),
	}
	select {
	case l.affine <- task:
	case <-ctx.Done():
		l.sem.Release(1)
		return acquireErr(ctx.Err(), Affine)
	case <-l.stop:
		l.sem.Release(1)
		return errdefs.New(errdefs.AnalysisFailure, "coordinator is closed")
	}
	select {
	case err := <-task.done:
		return err
	case <-ctx.Done():
		l.log.V(5).Info("dropping late affine result", "error", ctx.Err())
		return acquireErr(ctx.Err(), Affine)
	}
}

func (l *Lock) affineLoop() {
	for {
		select {
		case t := <-l.affine:
			var err error
			if t.ctx.Err() != nil {
				err = acquireErr(t.ctx.Err(), Affine)
			} else {
				err = run(t.ctx, Affine, t.op)
			}
			l.sem.Release(1)
			t.done <- err
		case <-l.stop:
			return
		}
	}
}

func (l *Lock) illegal(held, want Mode) error {
	l.log.Error(ErrIllegalNesting, "rejected nested operation", "held", held.String(), "requested", want.String())
	return fmt.Errorf("%s inside %s: %w", want, held, ErrIllegalNesting)
}

func run(ctx context.Context, m Mode, op Op) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errdefs.New(errdefs.AnalysisFailure, "panic in %s operation: %v\n%s", m, r, debug.Stack())
		}
	}()
	return op(ctx)
}

func acquireErr(err error, m Mode) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errdefs.Wrap(errdefs.Timeout, err, "waiting for %s access", m)
	}
	return fmt.Errorf("waiting for %s access: %w", m, err)
}
