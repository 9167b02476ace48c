// Package backend adapts the external analysis service that generates
// textual module interfaces. Every call is asynchronous and cancellable.
package backend

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"ifacelsp/internal/iface"
)

// Request is a single interface generation call.
type Request struct {
	Module iface.ModuleName
	// CorrelationToken names the call on the backend side.
	CorrelationToken string
	// SynthesizedExtensions asks the backend to expand synthesized extensions.
	SynthesizedExtensions bool
	// CompilerArgs is nil when no arguments are known for the document.
	CompilerArgs []string
}

// NewRequest builds a request with a fresh correlation token.
func NewRequest(module iface.ModuleName, args []string) Request {
	return Request{
		Module:                module,
		CorrelationToken:      uuid.NewString(),
		SynthesizedExtensions: true,
		CompilerArgs:          args,
	}
}

// Service starts interface generation calls.
type Service interface {
	// Request starts a call. It fails fast with iface.ErrCancelled when ctx
	// is already done. Cancelling ctx later does not cancel the call; use
	// Call.Cancel for that.
	Request(ctx context.Context, req Request) (Call, error)
}

// Call is a handle to an outstanding backend call.
type Call interface {
	// Cancel aborts the call. It is a no-op once the call has completed.
	Cancel()
	// Done is closed when the call completes, fails or is cancelled.
	Done() <-chan struct{}
	// Result blocks until Done and returns the outcome. A cancelled call
	// returns iface.ErrCancelled; failures are *iface.BackendError.
	Result() (iface.Info, error)
}

// pendingCall is the Call implementation shared by the adapters. The first
// of complete and Cancel wins; later calls are ignored.
type pendingCall struct {
	done     chan struct{}
	once     sync.Once
	info     iface.Info
	err      error
	module   iface.ModuleName
	onCancel func()
}

func newPendingCall(onCancel func()) *pendingCall {
	return &pendingCall{done: make(chan struct{}), onCancel: onCancel}
}

func (c *pendingCall) complete(info iface.Info, err error) bool {
	completed := false
	c.once.Do(func() {
		c.info = info
		c.err = err
		completed = true
		close(c.done)
	})
	return completed
}

func (c *pendingCall) Cancel() {
	if c.complete(iface.Info{}, iface.ErrCancelled) && c.onCancel != nil {
		c.onCancel()
	}
}

func (c *pendingCall) Done() <-chan struct{} { return c.done }

func (c *pendingCall) Result() (iface.Info, error) {
	<-c.done
	return c.info, c.err
}

func backendError(module iface.ModuleName, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*iface.BackendError); ok {
		return err
	}
	return &iface.BackendError{Module: module, Err: err}
}
