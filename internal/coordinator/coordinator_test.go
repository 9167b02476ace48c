package coordinator

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ifacelsp/internal/backend"
	"ifacelsp/internal/iface"
)

type recordingCall struct {
	backend.Call
	cancelled atomic.Bool
}

func (c *recordingCall) Cancel() {
	c.cancelled.Store(true)
	c.Call.Cancel()
}

// recordingService counts requests and remembers every handle it returns.
type recordingService struct {
	gen backend.GenerateFunc

	mu       sync.Mutex
	requests []backend.Request
	calls    []*recordingCall
}

func (s *recordingService) Request(ctx context.Context, req backend.Request) (backend.Call, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	call, err := backend.Func(s.gen).Request(ctx, req)
	if err != nil {
		return nil, err
	}
	rc := &recordingCall{Call: call}
	s.mu.Lock()
	s.calls = append(s.calls, rc)
	s.mu.Unlock()
	return rc, nil
}

func (s *recordingService) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestCoordinator(t *testing.T, svc backend.Service, opts Options) (*Coordinator, *iface.Materializer) {
	t.Helper()
	m := iface.NewMaterializer(filepath.Join(t.TempDir(), iface.DefaultDirName), "")
	opts.Backend = svc
	if opts.Persister == nil {
		opts.Persister = m
	}
	c := New(opts)
	t.Cleanup(c.Close)
	return c, m
}

func readLocation(t *testing.T, loc iface.Location) string {
	t.Helper()
	u, err := url.Parse(string(loc))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	data, err := os.ReadFile(filepath.FromSlash(u.Path))
	if err != nil {
		t.Fatalf("read %s: %v", loc, err)
	}
	return string(data)
}

func TestHandleMissMaterializesAndCaches(t *testing.T) {
	svc := &recordingService{gen: func(ctx context.Context, req backend.Request) (iface.Info, error) {
		return iface.TextInfo("public struct Foo {}"), nil
	}}
	c, m := newTestCoordinator(t, svc, Options{})

	loc, err := c.Handle(context.Background(), "Foo", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.HasSuffix(string(loc), "/Foo.swiftinterface") {
		t.Fatalf("unexpected location %q", loc)
	}
	if got := readLocation(t, loc); got != "public struct Foo {}" {
		t.Fatalf("unexpected contents %q", got)
	}
	cached, ok := c.Cached("Foo")
	if !ok || cached != loc {
		t.Fatalf("expected cache entry %q, got %q (%v)", loc, cached, ok)
	}
	path, _ := m.Path("Foo")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s: %v", path, err)
	}
	if svc.count() != 1 {
		t.Fatalf("expected 1 backend call, got %d", svc.count())
	}
	req := svc.requests[0]
	if req.Module != "Foo" || req.CorrelationToken == "" || !req.SynthesizedExtensions || req.CompilerArgs != nil {
		t.Fatalf("unexpected backend request %+v", req)
	}
}

func TestHandleHitSkipsBackend(t *testing.T) {
	svc := &recordingService{gen: func(ctx context.Context, req backend.Request) (iface.Info, error) {
		return iface.TextInfo("v1"), nil
	}}
	c, _ := newTestCoordinator(t, svc, Options{})

	first, err := c.Handle(context.Background(), "Foo", "")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	for i := 0; i < 3; i++ {
		loc, err := c.Handle(context.Background(), "Foo", "")
		if err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
		if loc != first {
			t.Fatalf("hit %d: expected %q, got %q", i, first, loc)
		}
	}
	if svc.count() != 1 {
		t.Fatalf("expected exactly 1 backend call, got %d", svc.count())
	}
}

func TestHandleHitWithCancelledContext(t *testing.T) {
	svc := &recordingService{gen: func(ctx context.Context, req backend.Request) (iface.Info, error) {
		return iface.TextInfo("v1"), nil
	}}
	c, _ := newTestCoordinator(t, svc, Options{})
	first, err := c.Handle(context.Background(), "Foo", "")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loc, err := c.Handle(ctx, "Foo", "")
	if err != nil || loc != first {
		t.Fatalf("expected cached %q, got %q, %v", first, loc, err)
	}
}

func TestHandleBackendFailureLeavesCacheEmpty(t *testing.T) {
	svc := &recordingService{gen: func(ctx context.Context, req backend.Request) (iface.Info, error) {
		return iface.Info{}, errors.New("module not found")
	}}
	c, m := newTestCoordinator(t, svc, Options{})

	_, err := c.Handle(context.Background(), "Bar", "")
	var backendErr *iface.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if !strings.Contains(err.Error(), "module not found") {
		t.Fatalf("expected backend message, got %v", err)
	}
	if _, ok := c.Cached("Bar"); ok {
		t.Fatal("failed module must not be cached")
	}
	path, _ := m.Path("Bar")
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no file at %s, got %v", path, err)
	}
}

func TestHandleCancelledWhileBackendRuns(t *testing.T) {
	started := make(chan struct{})
	svc := &recordingService{gen: func(ctx context.Context, req backend.Request) (iface.Info, error) {
		close(started)
		<-ctx.Done()
		return iface.Info{}, ctx.Err()
	}}
	c, m := newTestCoordinator(t, svc, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Handle(ctx, "Baz", "")
		errCh <- err
	}()
	<-started
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, iface.ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handle did not return after cancellation")
	}
	svc.mu.Lock()
	handle := svc.calls[0]
	svc.mu.Unlock()
	if !handle.cancelled.Load() {
		t.Fatal("backend handle was not cancelled")
	}
	if _, ok := c.Cached("Baz"); ok {
		t.Fatal("cancelled module must not be cached")
	}
	path, _ := m.Path("Baz")
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no file at %s, got %v", path, err)
	}
}

func TestHandleCancelledBeforeBackendCall(t *testing.T) {
	svc := &recordingService{gen: func(ctx context.Context, req backend.Request) (iface.Info, error) {
		return iface.TextInfo("x"), nil
	}}
	c, _ := newTestCoordinator(t, svc, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Handle(ctx, "Baz", ""); !errors.Is(err, iface.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if svc.count() != 0 {
		t.Fatalf("expected no backend calls, got %d", svc.count())
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", c.Len())
	}
}

type failingPersister struct{}

func (failingPersister) Persist(name iface.ModuleName, text string) (iface.Location, error) {
	return "", &iface.StorageError{Module: name, Op: "write", Path: "/nowhere", Err: os.ErrPermission}
}

func TestHandleStorageFailure(t *testing.T) {
	svc := &recordingService{gen: func(ctx context.Context, req backend.Request) (iface.Info, error) {
		return iface.TextInfo("x"), nil
	}}
	c, _ := newTestCoordinator(t, svc, Options{Persister: failingPersister{}})
	_, err := c.Handle(context.Background(), "Foo", "")
	var storageErr *iface.StorageError
	if !errors.As(err, &storageErr) || !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if _, ok := c.Cached("Foo"); ok {
		t.Fatal("module must not be cached after a storage failure")
	}
}

func TestHandleAbsentContentsWritesEmptyFile(t *testing.T) {
	svc := &recordingService{gen: func(ctx context.Context, req backend.Request) (iface.Info, error) {
		return iface.Info{}, nil
	}}
	c, _ := newTestCoordinator(t, svc, Options{})
	loc, err := c.Handle(context.Background(), "Empty", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := readLocation(t, loc); got != "" {
		t.Fatalf("expected empty file, got %q", got)
	}
}

func TestHandleResolvesCompilerArgs(t *testing.T) {
	svc := &recordingService{gen: func(ctx context.Context, req backend.Request) (iface.Info, error) {
		return iface.TextInfo("x"), nil
	}}
	var seen string
	resolver := ArgsResolverFunc(func(document string) ([]string, bool) {
		seen = document
		if document == "/src/a.swift" {
			return []string{"-sdk", "/sdk"}, true
		}
		return nil, false
	})
	c, _ := newTestCoordinator(t, svc, Options{Args: resolver})
	if _, err := c.Handle(context.Background(), "A", "/src/a.swift"); err != nil {
		t.Fatalf("handle A: %v", err)
	}
	if _, err := c.Handle(context.Background(), "B", "/elsewhere/b.swift"); err != nil {
		t.Fatalf("handle B: %v", err)
	}
	if seen != "/elsewhere/b.swift" {
		t.Fatalf("resolver saw %q", seen)
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if got := strings.Join(svc.requests[0].CompilerArgs, " "); got != "-sdk /sdk" {
		t.Fatalf("unexpected args for A: %q", got)
	}
	if svc.requests[1].CompilerArgs != nil {
		t.Fatalf("expected no args for B, got %v", svc.requests[1].CompilerArgs)
	}
}

func TestConcurrentMissesAreNotDeduplicated(t *testing.T) {
	var inflight sync.WaitGroup
	inflight.Add(2)
	var n atomic.Int32
	svc := &recordingService{gen: func(ctx context.Context, req backend.Request) (iface.Info, error) {
		inflight.Done()
		inflight.Wait()
		if n.Add(1) == 1 {
			return iface.TextInfo("first"), nil
		}
		return iface.TextInfo("second"), nil
	}}
	c, _ := newTestCoordinator(t, svc, Options{})

	var wg sync.WaitGroup
	locs := make([]iface.Location, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locs[i], errs[i] = c.Handle(context.Background(), "Foo", "")
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if locs[0] != locs[1] {
		t.Fatalf("expected equal locations, got %q and %q", locs[0], locs[1])
	}
	if svc.count() != 2 {
		t.Fatalf("expected 2 backend calls, got %d", svc.count())
	}
	if got := readLocation(t, locs[0]); got != "first" && got != "second" {
		t.Fatalf("unexpected contents %q", got)
	}
}

func TestMaxInflightQueuesAndHonoursCancel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	svc := &recordingService{gen: func(ctx context.Context, req backend.Request) (iface.Info, error) {
		started <- struct{}{}
		<-release
		return iface.TextInfo(string(req.Module)), nil
	}}
	c, _ := newTestCoordinator(t, svc, Options{MaxInflight: 1})

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Handle(context.Background(), "A", "")
		firstErr <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	secondErr := make(chan error, 1)
	go func() {
		_, err := c.Handle(ctx, "B", "")
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if svc.count() != 1 {
		t.Fatalf("expected second request to wait, got %d backend calls", svc.count())
	}
	cancel()
	if err := <-secondErr; !errors.Is(err, iface.ErrCancelled) {
		t.Fatalf("expected ErrCancelled for queued request, got %v", err)
	}
	close(release)
	if err := <-firstErr; err != nil {
		t.Fatalf("first: %v", err)
	}
	if svc.count() != 1 {
		t.Fatalf("cancelled request reached the backend")
	}
}

func TestHandleAfterClose(t *testing.T) {
	svc := &recordingService{gen: func(ctx context.Context, req backend.Request) (iface.Info, error) {
		return iface.TextInfo("x"), nil
	}}
	c, _ := newTestCoordinator(t, svc, Options{})
	c.Close()
	c.Close()
	if _, err := c.Handle(context.Background(), "Foo", ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, ok := c.Cached("Foo"); ok {
		t.Fatal("closed coordinator reported a cache entry")
	}
}
