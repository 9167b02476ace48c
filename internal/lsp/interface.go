package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc/panics"

	"ifacelsp/internal/iface"
)

var (
	errServerShutdown  = errors.New("server shutting down")
	errClientCancelled = errors.New("cancelled by client")
)

// inflightRequest is the registration of one running request. Its identity
// tells a reused id apart from the request that first carried it.
type inflightRequest struct {
	cancel context.CancelCauseFunc
}

// handleOpenInterface answers textDocument/openInterface on its own
// goroutine so the read loop stays free to deliver $/cancelRequest. A
// request cancelled by the client is never answered.
func (s *Server) handleOpenInterface(msg *rpcMessage) error {
	if !isRequest(msg.ID) {
		return nil
	}
	var params openInterfaceParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	if strings.TrimSpace(params.Name) == "" {
		return s.sendError(msg.ID, codeInvalidParams, "missing module name")
	}
	if s.interfaces == nil {
		return s.sendError(msg.ID, codeInternalError, "interface generation is not configured")
	}

	key := requestKey(msg.ID)
	ctx, req, ok := s.register(key)
	if !ok {
		return s.sendError(msg.ID, codeInvalidParams, "duplicate request id")
	}

	id := msg.ID
	module := iface.ModuleName(params.Name)
	document := documentPath(params.TextDocument.URI)
	s.requests.Go(func() {
		defer req.cancel(nil)
		var (
			loc iface.Location
			err error
		)
		var catcher panics.Catcher
		catcher.Try(func() {
			loc, err = s.interfaces.Handle(ctx, module, document)
		})
		if recovered := catcher.Recovered(); recovered != nil {
			err = fmt.Errorf("internal error: %v", recovered.Value)
			s.logger.Error("open interface panicked", "module", module, "panic", recovered.Value, "stack", string(recovered.Stack))
		}
		cause := s.finishRequest(key, req, ctx)
		switch {
		case cause == nil:
			s.replyOpenInterface(id, module, loc, err)
		case errors.Is(cause, errServerShutdown):
			if err == nil {
				s.replyOpenInterface(id, module, loc, nil)
				return
			}
			if sendErr := s.sendError(id, codeRequestCancelled, "request cancelled: server shutting down"); sendErr != nil {
				s.logger.Debug("failed to send reply", "module", module, "err", sendErr)
			}
		default:
			s.logger.Debug("open interface cancelled", "module", module, "cause", cause)
		}
	})
	return nil
}

func (s *Server) replyOpenInterface(id json.RawMessage, module iface.ModuleName, loc iface.Location, err error) {
	var sendErr error
	switch {
	case err == nil:
		if s.currentTrace() {
			s.logger.Info("open interface", "module", module, "uri", loc)
		}
		sendErr = s.sendResponse(id, interfaceDetails{URI: string(loc)})
	case iface.IsCancelled(err):
		return
	default:
		s.logger.Warn("open interface failed", "module", module, "err", err)
		sendErr = s.sendError(id, errorCode(err), err.Error())
	}
	if sendErr != nil {
		s.logger.Error("failed to send reply", "module", module, "err", sendErr)
	}
}

func errorCode(err error) int {
	var (
		backendErr *iface.BackendError
		storageErr *iface.StorageError
	)
	if errors.As(err, &backendErr) || errors.As(err, &storageErr) {
		return codeUnknownError
	}
	return codeInternalError
}

// register records a new in-flight request under key. It fails while
// another request with the same id is still registered.
func (s *Server) register(key string) (context.Context, *inflightRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.inflight[key]; dup {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancelCause(s.baseCtx)
	req := &inflightRequest{cancel: cancel}
	s.inflight[key] = req
	return ctx, req, true
}

// finishRequest unregisters req and returns why it was cancelled, or nil
// when it may be answered normally. The decision is taken under s.mu, where
// every cancellation also happens. A newer request reusing key keeps its
// registration.
func (s *Server) finishRequest(key string, req *inflightRequest, ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[key] == req {
		delete(s.inflight, key)
	}
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}

func (s *Server) handleCancelRequest(msg *rpcMessage) error {
	var params cancelParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || !isRequest(params.ID) {
		return nil
	}
	key := requestKey(params.ID)
	s.mu.Lock()
	req, ok := s.inflight[key]
	if ok {
		delete(s.inflight, key)
		req.cancel(errClientCancelled)
	}
	s.mu.Unlock()
	if ok {
		s.logger.Debug("request cancelled", "id", key)
	}
	return nil
}

// requestKey normalizes a JSON-RPC id so that 7, 7.0 and "7" stay distinct
// while whitespace differences do not matter.
func requestKey(id json.RawMessage) string {
	dec := json.NewDecoder(bytes.NewReader(id))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(bytes.TrimSpace(id))
	}
	switch v := v.(type) {
	case string:
		return "s:" + v
	case json.Number:
		return "n:" + v.String()
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}
