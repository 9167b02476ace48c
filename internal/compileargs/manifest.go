// Package compileargs resolves the compiler arguments that apply to a
// document. Arguments come from an ifacelsp.toml manifest found by walking up
// from the document's directory:
//
//	[compile]
//	args = ["-sdk", "/opt/sdk"]
//
//	[[compile.files]]
//	path = "Sources/Lib"
//	args = ["-module-name", "Lib"]
//
// A [[compile.files]] entry applies to the file or directory at path,
// relative to the manifest; the longest matching path wins over [compile].
package compileargs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// ManifestName is the file looked up in the document's ancestors.
const ManifestName = "ifacelsp.toml"

// Manifest is a parsed ifacelsp.toml.
type Manifest struct {
	Path   string
	Root   string
	Config manifestConfig
}

type manifestConfig struct {
	Compile compileConfig `toml:"compile"`
}

type compileConfig struct {
	Args  []string     `toml:"args"`
	Files []fileConfig `toml:"files"`
}

type fileConfig struct {
	Path string   `toml:"path"`
	Args []string `toml:"args"`
}

// FindManifest walks up from startDir looking for ManifestName.
func FindManifest(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, ManifestName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, os.ErrPermission) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// LoadManifest parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	var cfg manifestConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("compile") {
		return nil, fmt.Errorf("%s: missing [compile]", path)
	}
	for i, f := range cfg.Compile.Files {
		if strings.TrimSpace(f.Path) == "" {
			return nil, fmt.Errorf("%s: [[compile.files]] entry %d: missing path", path, i+1)
		}
	}
	root := filepath.Dir(path)
	// Longest path first so the most specific entry matches.
	sort.SliceStable(cfg.Compile.Files, func(i, j int) bool {
		return len(cfg.Compile.Files[i].Path) > len(cfg.Compile.Files[j].Path)
	})
	return &Manifest{Path: path, Root: root, Config: cfg}, nil
}

// ArgsFor returns the arguments for the document at path. The boolean is
// false when the manifest does not cover the document at all.
func (m *Manifest) ArgsFor(path string) ([]string, bool) {
	rel, err := filepath.Rel(m.Root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, false
	}
	rel = filepath.ToSlash(rel)
	for _, f := range m.Config.Compile.Files {
		prefix := strings.TrimSuffix(filepath.ToSlash(filepath.Clean(f.Path)), "/")
		if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
			return cloneArgs(f.Args), true
		}
	}
	if m.Config.Compile.Args == nil {
		return nil, false
	}
	return cloneArgs(m.Config.Compile.Args), true
}

func cloneArgs(args []string) []string {
	if args == nil {
		return nil
	}
	return append([]string(nil), args...)
}
