package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/draftcode/ijaas/errdefs"
	"github.com/draftcode/ijaas/metrics"
	"github.com/draftcode/ijaas/tracing"
	"github.com/go-logr/logr"
)

const DefaultTimeout = 10 * time.Second

// PendingRequest is a request whose handler is still running.
type PendingRequest struct {
	ID       interface{}
	Method   string
	Deadline time.Time
	Cancel   context.CancelFunc
}

// Dispatcher invokes a Handler on a Pool and waits at most Timeout for it.
type Dispatcher struct {
	log      logr.Logger
	handler  Handler
	pool     *Pool
	timeout  time.Duration
	protocol string

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]*PendingRequest
}

func NewDispatcher(log logr.Logger, protocol string, h Handler, pool *Pool, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		log:      log.WithName("dispatcher"),
		handler:  h,
		pool:     pool,
		timeout:  timeout,
		protocol: protocol,
		pending:  map[uint64]*PendingRequest{},
	}
}

// Dispatch runs req and returns its result. When the handler does not finish
// in time its context is cancelled, a Timeout error is returned and whatever
// it produces later is dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (result interface{}, err error) {
	started := time.Now()
	ctx, span := tracing.StartRequestSpan(ctx, d.protocol, req.Method, req.ID)
	defer func() {
		tracing.EndSpan(span, err)
		metrics.Observe(d.protocol, req.Method, outcome(err), started)
	}()

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	key := d.track(&PendingRequest{
		ID:       req.ID,
		Method:   req.Method,
		Deadline: started.Add(d.timeout),
		Cancel:   cancel,
	})
	defer d.untrack(key)

	future := d.pool.Submit(runCtx, func(ctx context.Context) (interface{}, error) {
		return d.handler.Handle(ctx, req)
	})
	select {
	case <-future.Ready():
	case <-runCtx.Done():
	}
	if !future.IsReady() {
		cancel()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			d.log.Info("request timed out", "id", req.ID, "method", req.Method, "timeout", d.timeout.String())
			return nil, errdefs.Wrap(errdefs.Timeout, runCtx.Err(), "%s did not finish within %s", req.Method, d.timeout)
		}
		return nil, runCtx.Err()
	}
	res := future.Await()
	if errors.Is(res.Err, ErrNotHandled) {
		return nil, errdefs.NotFoundf("%s is not found", req.Method)
	}
	if res.Err != nil && errors.Is(res.Err, context.DeadlineExceeded) && errdefs.KindOf(res.Err) == errdefs.Unknown {
		return nil, errdefs.Wrap(errdefs.Timeout, res.Err, "%s did not finish within %s", req.Method, d.timeout)
	}
	return res.Value, res.Err
}

// Pending lists the requests currently running, oldest first.
func (d *Dispatcher) Pending() []PendingRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]uint64, 0, len(d.pending))
	for k := range d.pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]PendingRequest, 0, len(keys))
	for _, k := range keys {
		out = append(out, *d.pending[k])
	}
	return out
}

// CancelAll cancels every running request.
func (d *Dispatcher) CancelAll() {
	for _, p := range d.Pending() {
		p.Cancel()
	}
}

func (d *Dispatcher) track(p *PendingRequest) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.pending[d.seq] = p
	return d.seq
}

func (d *Dispatcher) untrack(key uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, key)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errdefs.IsTimeout(err):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}

func (p PendingRequest) String() string {
	return fmt.Sprintf("%v %s (deadline %s)", p.ID, p.Method, p.Deadline.Format(time.RFC3339))
}
