// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"errors"
	"io"
	"io/fs"
)

// Backend is the uniform filesystem interface the pipeline runs
// against. Implementations exist for a local directory ([NewDir]),
// an in-memory tree ([NewMem]), and a read-only embedded blob
// archive ([OpenBlob]).
//
// Every path parameter is slash-separated and interpreted relative
// to the backend's root; an empty path names the root directory.
// Every failure is reported as a [*PathError] carrying the offending
// path.
//
// Writers commit on successful Close: a writer that is opened but
// abandoned without Close leaves the target unmodified. Readers and
// writers must not outlive the backend.
type Backend interface {
	// Reader opens a sequential read stream over the file at path.
	Reader(path string) (io.ReadCloser, error)

	// Writer opens a write stream for the file at path, creating or
	// replacing it atomically when the stream is closed.
	Writer(path string) (io.WriteCloser, error)

	// ReadDir returns the direct children of the directory at path,
	// sorted by name.
	ReadDir(path string) ([]Entry, error)

	// IsDir reports whether path exists and names a directory.
	IsDir(path string) (bool, error)

	// Exists reports whether path names an existing file or directory.
	Exists(path string) (bool, error)

	// CreateDir creates the directory at path. The parent must exist.
	CreateDir(path string) error

	// CreateDirAll creates the directory at path along with any
	// missing parents. Succeeds if the directory already exists.
	CreateDirAll(path string) error

	// Remove deletes the file at path.
	Remove(path string) error

	// RemoveDir deletes the directory at path and everything under it.
	RemoveDir(path string) error

	// Rename atomically moves from to to within the backend.
	Rename(from, to string) error
}

// Entry describes one direct child of a directory.
type Entry struct {
	Name  string
	IsDir bool
}

// PathError records a backend operation, the path it failed on, and
// the underlying cause.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// Sentinel causes carried inside [PathError]. ErrNotExist and
// ErrExist alias the io/fs sentinels so errors from the local-disk
// backend and the pure-Go backends test identically.
var (
	ErrNotExist = fs.ErrNotExist
	ErrExist    = fs.ErrExist
	ErrReadOnly = errors.New("backend is read-only")
	ErrNotDir   = errors.New("not a directory")
	ErrIsDir    = errors.New("is a directory")
	ErrNotEmpty = errors.New("directory not empty")
)

// IsNotExist reports whether err indicates a missing file or
// directory, on any backend.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// pathError wraps an underlying cause as a *PathError unless it
// already is one for the same path.
func pathError(op, path string, err error) error {
	var existing *PathError
	if errors.As(err, &existing) && existing.Path == path {
		return err
	}
	return &PathError{Op: op, Path: path, Err: err}
}

// ReadFile reads the whole file at path from the backend.
func ReadFile(backend Backend, path string) ([]byte, error) {
	reader, err := backend.Reader(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, pathError("read", path, err)
	}
	return data, nil
}

// WriteFile writes data to path on the backend, committing via the
// writer's Close.
func WriteFile(backend Backend, path string, data []byte) error {
	writer, err := backend.Writer(path)
	if err != nil {
		return err
	}
	if _, err := writer.Write(data); err != nil {
		// Abandon without Close so the target stays unmodified.
		return pathError("write", path, err)
	}
	return writer.Close()
}
