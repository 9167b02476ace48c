// Package iface holds the value types shared by the interface generation
// pipeline: module names, materialized locations and backend results.
package iface

// ModuleName identifies a module. It is case-sensitive and used verbatim as
// both the cache key and the file name stem.
type ModuleName string

func (n ModuleName) String() string { return string(n) }

// Location is a stable file:// URI pointing at a materialized interface.
type Location string

func (l Location) String() string { return string(l) }

// Info is the result of a successful backend call.
type Info struct {
	// Contents is nil when the backend produced no source text.
	Contents *string
}

// Text returns the interface text, treating missing contents as empty.
func (i Info) Text() string {
	if i.Contents == nil {
		return ""
	}
	return *i.Contents
}

// TextInfo wraps text into an Info.
func TextInfo(text string) Info {
	return Info{Contents: &text}
}
