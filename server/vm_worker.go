package server

import (
	"errors"
	"fmt"

	"github.com/chazu/marl/compiler"
	"github.com/chazu/marl/vm"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("vm worker stopped")

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	fn   func(*vm.Runtime) (any, error)
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value any
	err   error
}

// VMWorker serializes all runtime access through a single goroutine.
// The interpreter is single-threaded; every RPC handler goes through the
// worker.
type VMWorker struct {
	rt       *vm.Runtime
	compiler *compiler.Compiler
	requests chan vmRequest
	quit     chan struct{}
	stopped  chan struct{}
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker(rt *vm.Runtime, opts compiler.Options) *VMWorker {
	w := &VMWorker{
		rt:       rt,
		compiler: compiler.New(rt, opts),
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the runtime, recovering from panics.
func (w *VMWorker) execute(fn func(*vm.Runtime) (any, error)) (result vmResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("vm worker: recovered panic: %v", r)
			result = vmResult{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, err := fn(w.rt)
	return vmResult{value: v, err: err}
}

// Do submits fn for execution on the VM goroutine and blocks until it
// completes. Panics in fn come back as errors.
func (w *VMWorker) Do(fn func(*vm.Runtime) (any, error)) (any, error) {
	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.stopped:
		return nil, ErrWorkerStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.stopped:
		return nil, ErrWorkerStopped
	}
}

// Stop shuts down the worker goroutine and waits for it to exit. Requests
// already running complete first.
func (w *VMWorker) Stop() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	<-w.stopped
}

// Compiler returns the compiler bound to the worker's runtime. Use it only
// from inside Do.
func (w *VMWorker) Compiler() *compiler.Compiler {
	return w.compiler
}
