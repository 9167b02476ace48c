package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"ifacelsp/internal/iface"
)

// ErrClosed is reported for calls made on, or pending at, a closed client.
var ErrClosed = errors.New("backend closed")

// Client speaks the msgpack frame protocol to a backend over a pair of
// streams. Responses are matched to calls by correlation token.
type Client struct {
	w       io.WriteCloser
	fw      *frameWriter
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool
	exitErr error

	readDone chan struct{}
	logger   *log.Logger
}

var _ Service = (*Client)(nil)

// NewClient starts reading responses from r. Requests are written to w,
// which is closed by Close.
func NewClient(r io.Reader, w io.WriteCloser, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	c := &Client{
		w:        w,
		fw:       newFrameWriter(w),
		pending:  make(map[string]*pendingCall),
		readDone: make(chan struct{}),
		logger:   logger,
	}
	go c.readLoop(newFrameReader(r))
	return c
}

// Request sends an open_interface frame and returns its handle.
func (c *Client) Request(ctx context.Context, req Request) (Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, iface.ErrCancelled
	}
	id := req.CorrelationToken
	if id == "" {
		id = uuid.NewString()
	}
	call := newPendingCall(func() { c.cancel(id) })
	call.module = req.Module

	c.mu.Lock()
	if c.closed {
		err := c.exitErr
		c.mu.Unlock()
		return nil, backendError(req.Module, err)
	}
	if _, dup := c.pending[id]; dup {
		c.mu.Unlock()
		return nil, backendError(req.Module, fmt.Errorf("duplicate correlation token %q", id))
	}
	c.pending[id] = call
	c.mu.Unlock()

	frame := wireRequest{
		Kind:                  kindOpenInterface,
		ID:                    id,
		Module:                string(req.Module),
		Name:                  id,
		SynthesizedExtensions: req.SynthesizedExtensions,
		CompilerArgs:          req.CompilerArgs,
	}
	if err := c.write(frame); err != nil {
		c.forget(id)
		return nil, backendError(req.Module, fmt.Errorf("send request: %w", err))
	}
	c.logger.Debug("backend request sent", "module", req.Module, "id", id, "args", len(req.CompilerArgs))
	return call, nil
}

// Close stops the client and fails every pending call.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.exitErr = ErrClosed
	c.mu.Unlock()
	c.failPending(ErrClosed)
	return c.w.Close()
}

// Exited is closed once the response stream ends.
func (c *Client) Exited() <-chan struct{} { return c.readDone }

func (c *Client) write(frame wireRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.fw.write(frame)
}

func (c *Client) cancel(id string) {
	if !c.forget(id) {
		return
	}
	c.logger.Debug("backend request cancelled", "id", id)
	// The write may block behind a busy backend; the canceller must not.
	go func() {
		if err := c.write(wireRequest{Kind: kindCancel, ID: id}); err != nil {
			c.logger.Debug("failed to send cancel", "id", id, "err", err)
		}
	}()
}

func (c *Client) forget(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *Client) readLoop(fr *frameReader) {
	defer close(c.readDone)
	for {
		resp, err := fr.readResponse()
		if err != nil {
			exitErr := fmt.Errorf("backend exited: %w", err)
			if errors.Is(err, io.EOF) {
				exitErr = errors.New("backend exited")
			}
			c.mu.Lock()
			if !c.closed {
				c.closed = true
				c.exitErr = exitErr
			}
			exitErr = c.exitErr
			c.mu.Unlock()
			c.failPending(exitErr)
			return
		}
		c.mu.Lock()
		call := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if call == nil {
			c.logger.Debug("dropping response for unknown call", "id", resp.ID)
			continue
		}
		if resp.Error != "" {
			call.complete(iface.Info{}, &iface.BackendError{Module: call.module, Err: errors.New(resp.Error)})
			continue
		}
		call.complete(iface.Info{Contents: resp.SourceText}, nil)
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()
	for _, call := range calls {
		call.complete(iface.Info{}, &iface.BackendError{Module: call.module, Err: err})
	}
}
