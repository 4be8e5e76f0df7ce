package handler

import (
	"context"
	"runtime/debug"

	"github.com/draftcode/ijaas/errdefs"
)

// Result is what a job delivers through its Future.
type Result struct {
	Value interface{}
	Err   error
}

type job struct {
	ctx    context.Context
	fn     func(ctx context.Context) (interface{}, error)
	future *Future[Result]
}

// Pool runs jobs on a fixed number of workers.
type Pool struct {
	// Buffered channel where the workers are watching
	jobs       chan job
	ctx        context.Context
	cancelFunc context.CancelFunc
}

func NewPool(ctx context.Context, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancelFunc := context.WithCancel(ctx)
	p := &Pool{
		jobs:       make(chan job, workers),
		ctx:        ctx,
		cancelFunc: cancelFunc,
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) Stop() {
	p.cancelFunc()
}

// Submit queues fn. The returned Future is set when fn returns, or with the
// context error if ctx ends before a worker picks fn up.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) *Future[Result] {
	f := NewFuture[Result]()
	select {
	case p.jobs <- job{ctx: ctx, fn: fn, future: f}:
	case <-ctx.Done():
		f.SetValue(Result{Err: ctx.Err()})
	case <-p.ctx.Done():
		f.SetValue(Result{Err: errdefs.New(errdefs.Unknown, "handler pool is stopped")})
	}
	return f
}

func (p *Pool) worker() {
	for {
		select {
		case j := <-p.jobs:
			if err := j.ctx.Err(); err != nil {
				j.future.SetValue(Result{Err: err})
				continue
			}
			v, err := runJob(j)
			j.future.SetValue(Result{Value: v, Err: err})
		case <-p.ctx.Done():
			return
		}
	}
}

func runJob(j job) (v interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errdefs.New(errdefs.AnalysisFailure, "handler panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return j.fn(j.ctx)
}
