package handler

import (
	"sync"
)

// Future is a value that can be awaited until it is ready. Only the first
// SetValue counts; later ones are dropped.
type Future[V any] struct {
	// The value, written once before readyChan is closed
	value V

	// A channel used to signal when the value is ready
	readyChan chan struct{}

	// A synchronization primitive to ensure readiness is signaled only once
	readyOnce *sync.Once
}

func NewFuture[V any]() *Future[V] {
	return &Future[V]{
		readyChan: make(chan struct{}),
		readyOnce: new(sync.Once),
	}
}

// Await waits until the value is ready and returns it.
func (f *Future[V]) Await() V {
	<-f.readyChan
	return f.value
}

// Ready is closed once the value is set.
func (f *Future[V]) Ready() <-chan struct{} {
	return f.readyChan
}

// SetValue sets the value and signals readiness. It reports whether this call
// was the one that set it.
func (f *Future[V]) SetValue(value V) bool {
	set := false
	f.readyOnce.Do(func() {
		f.value = value
		set = true
		close(f.readyChan)
	})
	return set
}

// IsReady checks if the value is ready without blocking.
func (f *Future[V]) IsReady() bool {
	select {
	case <-f.readyChan:
		return true
	default:
		return false
	}
}
