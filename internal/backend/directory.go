package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ifacelsp/internal/iface"
)

// ErrModuleNotFound is returned by Directory for unknown modules.
var ErrModuleNotFound = errors.New("module not found")

// Directory returns a GenerateFunc serving pre-generated interfaces stored as
// <dir>/<module><ext>. It backs the stub backend used for editor testing.
func Directory(dir, ext string) GenerateFunc {
	if ext == "" {
		ext = iface.DefaultExt
	}
	return func(ctx context.Context, req Request) (iface.Info, error) {
		if err := ctx.Err(); err != nil {
			return iface.Info{}, err
		}
		name := string(req.Module)
		if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return iface.Info{}, fmt.Errorf("%w: %q", ErrModuleNotFound, name)
		}
		data, err := os.ReadFile(filepath.Join(dir, name+ext))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return iface.Info{}, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
			}
			return iface.Info{}, err
		}
		return iface.TextInfo(string(data)), nil
	}
}
