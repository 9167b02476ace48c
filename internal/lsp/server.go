package lsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc"

	"ifacelsp/internal/iface"
)

var (
	// ErrExit signals a graceful shutdown after receiving "exit".
	ErrExit = errors.New("lsp exit")
	// ErrExitWithoutShutdown signals an "exit" without a preceding "shutdown".
	ErrExitWithoutShutdown = errors.New("lsp exit without shutdown")
)

// InterfaceProvider materializes module interfaces. document is the file
// system path of the requesting document, or empty.
type InterfaceProvider interface {
	Handle(ctx context.Context, name iface.ModuleName, document string) (iface.Location, error)
}

// ServerOptions configures LSP server behavior.
type ServerOptions struct {
	Interfaces InterfaceProvider
	Logger     *log.Logger
	// Trace logs per-request timings; clients can toggle it through
	// workspace/didChangeConfiguration.
	Trace   bool
	Version string
}

// Server handles stdio JSON-RPC for the interface server.
type Server struct {
	in     *bufio.Reader
	out    *bufio.Writer
	sendMu sync.Mutex
	mu     sync.Mutex

	initialized       bool
	shutdownRequested bool
	traceLSP          bool
	version           string

	interfaces InterfaceProvider
	baseCtx    context.Context
	inflight   map[string]*inflightRequest
	requests   conc.WaitGroup
	logger     *log.Logger
}

// NewServer constructs a new LSP server.
func NewServer(in io.Reader, out io.Writer, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Server{
		in:         bufio.NewReader(in),
		out:        bufio.NewWriter(out),
		traceLSP:   opts.Trace,
		version:    opts.Version,
		interfaces: opts.Interfaces,
		baseCtx:    context.Background(),
		inflight:   make(map[string]*inflightRequest),
		logger:     logger,
	}
}

// Run serves LSP requests until exit or end of input. In-flight requests
// are cancelled and awaited before Run returns.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx
	defer s.drain()
	for {
		payload, err := readMessage(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Warn("failed to parse message", "err", err)
			if sendErr := s.sendError(json.RawMessage("null"), codeParseError, "parse error"); sendErr != nil {
				return sendErr
			}
			continue
		}
		if msg.Method == "" {
			continue
		}
		if err := s.handleMessage(&msg); err != nil {
			return err
		}
	}
}

func (s *Server) handleMessage(msg *rpcMessage) error {
	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "exit":
		if s.isShutdownRequested() {
			return ErrExit
		}
		return ErrExitWithoutShutdown
	}
	if !s.isInitialized() {
		if isRequest(msg.ID) {
			return s.sendError(msg.ID, codeNotInitialized, "server not initialized")
		}
		return nil
	}
	if s.isShutdownRequested() {
		if isRequest(msg.ID) {
			return s.sendError(msg.ID, codeInvalidRequest, "server is shutting down")
		}
		return nil
	}
	switch msg.Method {
	case "initialized":
		return nil
	case "shutdown":
		return s.handleShutdown(msg)
	case "workspace/didChangeConfiguration":
		return s.handleDidChangeConfiguration(msg)
	case methodCancelRequest:
		return s.handleCancelRequest(msg)
	case methodOpenInterface:
		return s.handleOpenInterface(msg)
	default:
		if isRequest(msg.ID) {
			return s.sendError(msg.ID, codeMethodNotFound, "method not found")
		}
		return nil
	}
}

func (s *Server) handleInitialize(msg *rpcMessage) error {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.sendError(msg.ID, codeInvalidParams, "invalid params")
		}
	}
	root := ""
	if params.RootURI != "" {
		root = documentPath(params.RootURI)
	}
	if root == "" && params.RootPath != "" {
		root = params.RootPath
	}
	if root == "" && len(params.WorkspaceFolders) > 0 {
		root = documentPath(params.WorkspaceFolders[0].URI)
	}
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	s.applySettings(params.InitializationOptions)
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.logger.Info("initialized", "root", root)

	result := initializeResult{
		Capabilities: serverCapabilities{
			Experimental: experimentalCapabilities{OpenInterfaceProvider: s.interfaces != nil},
		},
		ServerInfo: &serverInfo{Name: "ifacelsp", Version: s.version},
	}
	return s.sendResponse(msg.ID, result)
}

func (s *Server) handleShutdown(msg *rpcMessage) error {
	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
	s.drain()
	return s.sendResponse(msg.ID, nil)
}

// drain cancels every in-flight request and waits for their goroutines.
// Drained requests are answered with RequestCancelled before drain returns.
func (s *Server) drain() {
	s.mu.Lock()
	for key, req := range s.inflight {
		req.cancel(errServerShutdown)
		delete(s.inflight, key)
	}
	s.mu.Unlock()
	s.requests.Wait()
}

// isRequest reports whether id marks a message that expects a reply.
func isRequest(id json.RawMessage) bool {
	trimmed := bytes.TrimSpace(id)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func (s *Server) sendResponse(id json.RawMessage, result any) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
	return s.send(msg)
}

func (s *Server) sendError(id json.RawMessage, code int, message string) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": rpcError{
			Code:    code,
			Message: message,
		},
	}
	return s.send(msg)
}

func (s *Server) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := writeMessage(s.out, payload); err != nil {
		return err
	}
	return s.out.Flush()
}
