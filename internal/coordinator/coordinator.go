// Package coordinator serves interface requests: it answers from the
// process-wide cache when it can and otherwise drives the backend and the
// materializer, recording the result once it is on disk.
package coordinator

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gammazero/channelqueue"
	"golang.org/x/sync/semaphore"

	"ifacelsp/internal/backend"
	"ifacelsp/internal/iface"
	"ifacelsp/internal/observ"
)

// ErrClosed is returned by Handle after Close.
var ErrClosed = errors.New("coordinator closed")

// ArgsResolver yields the compiler arguments for a document. Returning false
// means none are known, which is not an error.
type ArgsResolver interface {
	CompilerArgs(document string) ([]string, bool)
}

// ArgsResolverFunc adapts a function to ArgsResolver.
type ArgsResolverFunc func(document string) ([]string, bool)

func (f ArgsResolverFunc) CompilerArgs(document string) ([]string, bool) { return f(document) }

// Persister writes interface text and returns its location.
type Persister interface {
	Persist(name iface.ModuleName, text string) (iface.Location, error)
}

// Options configures a Coordinator.
type Options struct {
	Backend   backend.Service
	Persister Persister
	// Args may be nil; requests then carry no compiler arguments.
	Args ArgsResolver
	// MaxInflight bounds concurrent backend calls. Zero means unbounded.
	MaxInflight int64
	Logger      *log.Logger
}

// Coordinator owns the interface cache. Cache reads and writes run on a
// single goroutine fed by an unbounded queue; backend calls and file writes
// run on the requesting goroutine and never block that loop.
type Coordinator struct {
	backend   backend.Service
	persister Persister
	args      ArgsResolver
	sem       *semaphore.Weighted
	logger    *log.Logger

	cache *Cache
	queue *channelqueue.ChannelQueue[func(*Cache)]
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New starts a Coordinator with an empty cache.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	c := &Coordinator{
		backend:   opts.Backend,
		persister: opts.Persister,
		args:      opts.Args,
		logger:    logger,
		cache:     NewCache(),
		queue:     channelqueue.New[func(*Cache)](-1),
		done:      make(chan struct{}),
	}
	if opts.MaxInflight > 0 {
		c.sem = semaphore.NewWeighted(opts.MaxInflight)
	}
	go c.loop()
	return c
}

func (c *Coordinator) loop() {
	defer close(c.done)
	for fn := range c.queue.Out() {
		fn(c.cache)
	}
}

// exec runs fn on the loop and waits for it.
func (c *Coordinator) exec(fn func(*Cache)) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	finished := make(chan struct{})
	c.queue.In() <- func(cache *Cache) {
		defer close(finished)
		fn(cache)
	}
	c.mu.RUnlock()
	<-finished
	return nil
}

// Handle returns the location of the interface for name, generating it on a
// cache miss. document identifies the requesting document and is only used to
// resolve compiler arguments.
//
// Failures are *iface.BackendError or *iface.StorageError. When ctx is
// cancelled before the result is recorded, Handle returns an error matching
// iface.ErrCancelled and leaves the cache untouched.
func (c *Coordinator) Handle(ctx context.Context, name iface.ModuleName, document string) (iface.Location, error) {
	timer := observ.NewTimer()

	var (
		loc iface.Location
		hit bool
	)
	if err := c.exec(func(cache *Cache) {
		loc, hit = cache.Lookup(name)
	}); err != nil {
		return "", err
	}
	if hit {
		c.logger.Debug("interface cache hit", "module", name, "uri", loc)
		return loc, nil
	}
	if ctx.Err() != nil {
		return "", iface.ErrCancelled
	}

	var args []string
	if c.args != nil {
		if resolved, ok := c.args.CompilerArgs(document); ok {
			args = resolved
		}
	}

	info, err := c.generate(ctx, timer, name, args)
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", iface.ErrCancelled
	}

	idx := timer.Begin("persist")
	loc, err = c.persister.Persist(name, info.Text())
	timer.End(idx)
	if err != nil {
		return "", err
	}

	cancelled := false
	if err := c.exec(func(cache *Cache) {
		if ctx.Err() != nil {
			cancelled = true
			return
		}
		cache.Insert(name, loc)
	}); err != nil {
		return "", err
	}
	if cancelled {
		return "", iface.ErrCancelled
	}
	c.logger.Debug("interface materialized", append([]any{"module", name, "uri", loc}, timer.KeyVals()...)...)
	return loc, nil
}

func (c *Coordinator) generate(ctx context.Context, timer *observ.Timer, name iface.ModuleName, args []string) (iface.Info, error) {
	if c.sem != nil {
		idx := timer.Begin("queue")
		err := c.sem.Acquire(ctx, 1)
		timer.End(idx)
		if err != nil {
			return iface.Info{}, iface.ErrCancelled
		}
		defer c.sem.Release(1)
	}

	idx := timer.Begin("backend")
	defer timer.End(idx)
	call, err := c.backend.Request(ctx, backend.NewRequest(name, args))
	if err != nil {
		if ctx.Err() != nil || iface.IsCancelled(err) {
			return iface.Info{}, iface.ErrCancelled
		}
		return iface.Info{}, asBackendError(name, err)
	}
	stop := context.AfterFunc(ctx, call.Cancel)
	defer stop()

	info, err := call.Result()
	if err != nil {
		if ctx.Err() != nil || iface.IsCancelled(err) {
			return iface.Info{}, iface.ErrCancelled
		}
		return iface.Info{}, asBackendError(name, err)
	}
	return info, nil
}

// Cached reports the cached location for name.
func (c *Coordinator) Cached(name iface.ModuleName) (iface.Location, bool) {
	var (
		loc iface.Location
		ok  bool
	)
	if err := c.exec(func(cache *Cache) { loc, ok = cache.Lookup(name) }); err != nil {
		return "", false
	}
	return loc, ok
}

// Len returns the number of cached modules.
func (c *Coordinator) Len() int {
	n := 0
	_ = c.exec(func(cache *Cache) { n = cache.Len() })
	return n
}

// Close stops the loop. Requests already past their cache lookup finish
// their backend work but fail with ErrClosed instead of caching.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue.Close()
	c.mu.Unlock()
	<-c.done
}

func asBackendError(name iface.ModuleName, err error) error {
	var backendErr *iface.BackendError
	if errors.As(err, &backendErr) {
		if backendErr.Module == "" {
			return &iface.BackendError{Module: name, Err: backendErr.Err}
		}
		return err
	}
	return &iface.BackendError{Module: name, Err: err}
}
