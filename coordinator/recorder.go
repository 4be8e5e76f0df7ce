package coordinator

import (
	"context"
	"sync"
)

// Recorder wraps a Coordinator and records the mode of every call made
// through it, in call order.
type Recorder struct {
	Coordinator

	mu    sync.Mutex
	calls []Mode
}

func NewRecorder(c Coordinator) *Recorder {
	return &Recorder{Coordinator: c}
}

func (r *Recorder) record(m Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, m)
}

func (r *Recorder) Calls() []Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mode(nil), r.calls...)
}

func (r *Recorder) RunShared(ctx context.Context, op Op) error {
	r.record(Shared)
	return r.Coordinator.RunShared(ctx, op)
}

func (r *Recorder) RunExclusive(ctx context.Context, op Op) error {
	r.record(Exclusive)
	return r.Coordinator.RunExclusive(ctx, op)
}

func (r *Recorder) RunAffine(ctx context.Context, op Op) error {
	r.record(Affine)
	return r.Coordinator.RunAffine(ctx, op)
}
