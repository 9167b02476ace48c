package compileargs

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Resolver maps documents to compiler arguments, caching parsed manifests
// until they change on disk.
type Resolver struct {
	mu        sync.Mutex
	manifests map[string]*Manifest
	watched   map[string]struct{}
	watcher   *fsnotify.Watcher
	logger    *log.Logger
}

// NewResolver returns a Resolver. When watch is true, cached manifests are
// dropped as soon as they are written, renamed or removed; otherwise call
// Invalidate to force a reload.
func NewResolver(watch bool, logger *log.Logger) (*Resolver, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	r := &Resolver{
		manifests: make(map[string]*Manifest),
		watched:   make(map[string]struct{}),
		logger:    logger,
	}
	if watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		r.watcher = w
	}
	return r, nil
}

// CompilerArgs returns the arguments for the document at path, or false when
// no manifest covers it. Manifest errors are logged and treated as absent
// arguments.
func (r *Resolver) CompilerArgs(path string) ([]string, bool) {
	if path == "" {
		return nil, false
	}
	manifestPath, ok, err := FindManifest(filepath.Dir(path))
	if err != nil {
		r.logger.Warn("manifest lookup failed", "document", path, "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	m, err := r.manifest(manifestPath)
	if err != nil {
		r.logger.Warn("manifest ignored", "path", manifestPath, "err", err)
		return nil, false
	}
	return m.ArgsFor(path)
}

func (r *Resolver) manifest(path string) (*Manifest, error) {
	r.mu.Lock()
	m, ok := r.manifests[path]
	r.mu.Unlock()
	if ok {
		return m, nil
	}
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[path] = m
	r.watchLocked(filepath.Dir(path))
	r.logger.Debug("manifest loaded", "path", path, "entries", len(m.Config.Compile.Files))
	return m, nil
}

func (r *Resolver) watchLocked(dir string) {
	if r.watcher == nil {
		return
	}
	if _, ok := r.watched[dir]; ok {
		return
	}
	if err := r.watcher.Add(dir); err != nil {
		r.logger.Debug("cannot watch manifest directory", "dir", dir, "err", err)
		return
	}
	r.watched[dir] = struct{}{}
}

// Invalidate drops every cached manifest.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.manifests)
}

// Run processes file system events until ctx is done. It returns immediately
// when the resolver does not watch.
func (r *Resolver) Run(ctx context.Context) error {
	if r.watcher == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(evt.Name) != ManifestName {
				continue
			}
			if evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) || evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename) {
				r.mu.Lock()
				delete(r.manifests, evt.Name)
				r.mu.Unlock()
				r.logger.Debug("manifest changed", "path", evt.Name, "op", evt.Op.String())
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				r.Invalidate()
				continue
			}
			r.logger.Warn("manifest watcher error", "err", err)
		}
	}
}

// Close releases the file system watcher.
func (r *Resolver) Close() error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}
