package backend

import (
	"context"
	"errors"

	"ifacelsp/internal/iface"
)

// GenerateFunc produces interface text in process.
type GenerateFunc func(ctx context.Context, req Request) (iface.Info, error)

// Func runs a GenerateFunc on its own goroutine per call. The context passed
// to the function is cancelled when the call is cancelled.
type Func GenerateFunc

var _ Service = Func(nil)

func (f Func) Request(ctx context.Context, req Request) (Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, iface.ErrCancelled
	}
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	call := newPendingCall(cancel)
	go func() {
		defer cancel()
		info, err := f(callCtx, req)
		if err != nil && (errors.Is(err, context.Canceled) || callCtx.Err() != nil) {
			call.complete(iface.Info{}, iface.ErrCancelled)
			return
		}
		call.complete(info, backendError(req.Module, err))
	}()
	return call, nil
}
