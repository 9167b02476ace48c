package iface

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDirName is the directory created under the system temp dir.
	DefaultDirName = "GeneratedInterfaces"
	// DefaultExt is appended to the module name to form the file name.
	DefaultExt = ".swiftinterface"
)

var errInvalidModuleName = errors.New("invalid module name")

// Materializer persists interface text under a fixed directory, one file per
// module. Safe for concurrent use: writes to the same module race, but each
// reader observes one complete version of the file.
type Materializer struct {
	dir string
	ext string
}

// DefaultDir returns $TMPDIR/GeneratedInterfaces.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), DefaultDirName)
}

// NewMaterializer returns a Materializer writing into dir with extension ext.
// Empty arguments fall back to DefaultDir and DefaultExt.
func NewMaterializer(dir, ext string) *Materializer {
	if dir == "" {
		dir = DefaultDir()
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if ext == "" {
		ext = DefaultExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &Materializer{dir: dir, ext: ext}
}

// Dir returns the interfaces directory.
func (m *Materializer) Dir() string { return m.dir }

// Path returns the destination for name. It depends on nothing but name.
func (m *Materializer) Path(name ModuleName) (string, error) {
	if err := validateModuleName(name); err != nil {
		return "", err
	}
	return filepath.Join(m.dir, string(name)+m.ext), nil
}

// Persist writes text to the destination for name and returns its location.
// The destination either holds the new content in full or is left untouched.
func (m *Materializer) Persist(name ModuleName, text string) (Location, error) {
	dest, err := m.Path(name)
	if err != nil {
		return "", &StorageError{Module: name, Op: "resolve", Err: err}
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", &StorageError{Module: name, Op: "mkdir", Path: m.dir, Err: err}
	}
	if err := writeFileAtomic(dest, []byte(text)); err != nil {
		return "", &StorageError{Module: name, Op: "write", Path: dest, Err: err}
	}
	return fileLocation(dest), nil
}

func writeFileAtomic(dest string, data []byte) (err error) {
	f, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	// CreateTemp creates the file with mode 0600.
	if err = os.Chmod(tmp, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

func validateModuleName(name ModuleName) error {
	s := string(name)
	switch {
	case s == "", s == ".", s == "..":
		return fmt.Errorf("%w: %q", errInvalidModuleName, s)
	case strings.ContainsAny(s, `/\`), strings.ContainsRune(s, 0):
		return fmt.Errorf("%w: %q contains a path separator", errInvalidModuleName, s)
	}
	return nil
}

func fileLocation(path string) Location {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	if !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	return Location(u.String())
}
