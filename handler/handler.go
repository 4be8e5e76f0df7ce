// Package handler holds the method registry shared by both request servers
// and runs every handler with a bounded execution time.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/draftcode/ijaas/errdefs"
	"github.com/go-logr/logr"
)

// ErrNotHandled is returned by a Handler that does not serve a method.
var ErrNotHandled = errors.New("request not handled")

type Request struct {
	ID     interface{}
	Method string
	Params json.RawMessage
}

type Handler interface {
	Handle(ctx context.Context, req *Request) (interface{}, error)
}

type HandlerFunc func(ctx context.Context, req *Request) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, req *Request) (interface{}, error) {
	return f(ctx, req)
}

// Logs the requests received
func LogHandler(log logr.Logger) HandlerFunc {
	return func(ctx context.Context, req *Request) (interface{}, error) {
		log.V(5).Info("request received", "id", req.ID, "method", req.Method)
		log.V(9).Info("request params", "id", req.ID, "params", string(req.Params))
		return nil, ErrNotHandled
	}
}

// Executes the Handlers one after the other, back to front stack-like. Returns
// the first response that is not ErrNotHandled.
type ChainHandler struct {
	Handlers []Handler
}

// Create a new ChainHandler with auto-flattening
func NewChainHandler(handlers ...Handler) *ChainHandler {
	output := ChainHandler{}
	for _, h := range handlers {
		if ch, ok := h.(*ChainHandler); ok {
			output.Handlers = append(output.Handlers, ch.Handlers...)
		} else {
			output.Handlers = append(output.Handlers, h)
		}
	}
	return &output
}

func (ch *ChainHandler) Handle(ctx context.Context, req *Request) (result interface{}, err error) {
	for i := len(ch.Handlers) - 1; i >= 0; i-- {
		result, err = ch.Handlers[i].Handle(ctx, req)
		if !errors.Is(err, ErrNotHandled) {
			return result, err
		}
	}
	return nil, ErrNotHandled
}

// Registry maps method names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Has(method string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[method]
	return ok
}

func (r *Registry) Handle(ctx context.Context, req *Request) (interface{}, error) {
	r.mu.RLock()
	h, ok := r.handlers[req.Method]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotHandled
	}
	return h.Handle(ctx, req)
}

// Typed adapts fn to a Handler that decodes the params into P.
func Typed[P any, R any](fn func(ctx context.Context, params P) (R, error)) Handler {
	return HandlerFunc(func(ctx context.Context, req *Request) (interface{}, error) {
		var params P
		if len(req.Params) > 0 && !bytes.Equal(bytes.TrimSpace(req.Params), []byte("null")) {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return nil, errdefs.Wrap(errdefs.ValidationError, err, "invalid params for %s", req.Method)
			}
		}
		return fn(ctx, params)
	})
}
