package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"ifacelsp/internal/iface"
)

// Serve implements the backend side of the frame protocol: it reads requests
// from r, runs gen for each open_interface frame and writes responses to w.
// A cancel frame cancels the context of the matching call; cancelled calls
// get no response. Serve returns when r is exhausted or ctx is done.
func Serve(ctx context.Context, r io.Reader, w io.Writer, gen GenerateFunc, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	ctx, stop := context.WithCancel(ctx)

	fr := newFrameReader(r)
	fw := newFrameWriter(w)
	var (
		writeMu sync.Mutex
		mu      sync.Mutex
		calls   = make(map[string]context.CancelFunc)
		wg      sync.WaitGroup
	)
	// Calls still running once the client hangs up are abandoned.
	defer func() {
		stop()
		wg.Wait()
	}()

	respond := func(resp wireResponse) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := fw.write(resp); err != nil {
			logger.Warn("failed to write response", "id", resp.ID, "err", err)
		}
	}

	go func() {
		<-ctx.Done()
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
	}()

	for {
		req, err := fr.readRequest()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}
		switch req.Kind {
		case kindCancel:
			mu.Lock()
			cancel := calls[req.ID]
			delete(calls, req.ID)
			mu.Unlock()
			if cancel != nil {
				cancel()
			}
		case kindOpenInterface:
			callCtx, cancel := context.WithCancel(ctx)
			mu.Lock()
			calls[req.ID] = cancel
			mu.Unlock()
			wg.Add(1)
			go func(req wireRequest) {
				defer wg.Done()
				defer cancel()
				info, err := gen(callCtx, Request{
					Module:                iface.ModuleName(req.Module),
					CorrelationToken:      req.Name,
					SynthesizedExtensions: req.SynthesizedExtensions,
					CompilerArgs:          req.CompilerArgs,
				})
				mu.Lock()
				delete(calls, req.ID)
				mu.Unlock()
				if callCtx.Err() != nil {
					return
				}
				resp := wireResponse{ID: req.ID, SourceText: info.Contents}
				if err != nil {
					resp = wireResponse{ID: req.ID, Error: err.Error()}
				}
				respond(resp)
			}(req)
		default:
			logger.Warn("unknown request kind", "kind", req.Kind, "id", req.ID)
			respond(wireResponse{ID: req.ID, Error: fmt.Sprintf("unknown request kind %q", req.Kind)})
		}
	}
}
