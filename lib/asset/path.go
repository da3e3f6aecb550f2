// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"fmt"
	"path"
	"strings"
)

// SourcePath identifies a file inside one named source filesystem:
// a (source name, relative path) pair. All paths the pipeline stores
// in artifacts and sidecars are SourcePath values, never OS-absolute
// paths, so a cache moves between machines without rewriting.
//
// Path is always slash-separated and relative to the source root.
type SourcePath struct {
	Source string `json:"source"`
	Path   string `json:"path"`
}

// NewSourcePath constructs a SourcePath, normalizing the relative
// path to clean slash form.
func NewSourcePath(source, relative string) SourcePath {
	return SourcePath{Source: source, Path: cleanRelative(relative)}
}

// String returns the canonical "source:path" form.
func (p SourcePath) String() string {
	return p.Source + ":" + p.Path
}

// IsZero reports whether the path is the zero value.
func (p SourcePath) IsZero() bool {
	return p == SourcePath{}
}

// Ext returns the file extension without the leading dot, lowercased.
// Empty when the path has no extension.
func (p SourcePath) Ext() string {
	ext := path.Ext(p.Path)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// Dir returns the SourcePath of the containing directory. The root
// directory is represented by an empty relative path.
func (p SourcePath) Dir() SourcePath {
	dir := path.Dir(p.Path)
	if dir == "." || dir == "/" {
		dir = ""
	}
	return SourcePath{Source: p.Source, Path: dir}
}

// Join returns the SourcePath for a child entry of p.
func (p SourcePath) Join(name string) SourcePath {
	if p.Path == "" {
		return SourcePath{Source: p.Source, Path: cleanRelative(name)}
	}
	return SourcePath{Source: p.Source, Path: p.Path + "/" + name}
}

// MarshalText implements encoding.TextMarshaler using the canonical
// "source:path" form.
func (p SourcePath) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *SourcePath) UnmarshalText(text []byte) error {
	source, relative, found := strings.Cut(string(text), ":")
	if !found {
		return fmt.Errorf("parsing source path %q: missing source separator", text)
	}
	p.Source = source
	p.Path = relative
	return nil
}

// cleanRelative normalizes a relative path: forward slashes, no
// leading slash, no "." segments. An empty result means the source
// root.
func cleanRelative(relative string) string {
	relative = strings.ReplaceAll(relative, "\\", "/")
	cleaned := path.Clean("/" + relative)
	return strings.TrimPrefix(cleaned, "/")
}
