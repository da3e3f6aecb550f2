// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// tmpPrefix marks in-flight writer temp files. ReadDir filters them
// so a concurrent scan never observes a half-written file.
const tmpPrefix = ".kiln-tmp-"

// Dir is a Backend rooted at a local filesystem directory. Writes
// commit atomically: the writer streams to a temp file in the target
// directory and renames it into place on Close.
type Dir struct {
	root string
}

// NewDir creates a Backend over the local directory at root. The
// directory is created if it does not exist.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, pathError("create_dir_all", root, err)
	}
	return &Dir{root: root}, nil
}

// Root returns the backend's root directory on the host filesystem.
func (d *Dir) Root() string {
	return d.root
}

// resolve maps a backend-relative slash path to a host path.
func (d *Dir) resolve(path string) string {
	return filepath.Join(d.root, filepath.FromSlash(path))
}

func (d *Dir) Reader(path string) (io.ReadCloser, error) {
	file, err := os.Open(d.resolve(path))
	if err != nil {
		return nil, pathError("reader", path, unwrapOS(err))
	}
	return file, nil
}

func (d *Dir) Writer(path string) (io.WriteCloser, error) {
	target := d.resolve(path)
	tmp, err := os.CreateTemp(filepath.Dir(target), tmpPrefix+"*")
	if err != nil {
		return nil, pathError("writer", path, unwrapOS(err))
	}
	return &dirWriter{file: tmp, tmpPath: tmp.Name(), target: target, path: path}, nil
}

func (d *Dir) ReadDir(path string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(d.resolve(path))
	if err != nil {
		return nil, pathError("read_dir", path, unwrapOS(err))
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, entry := range dirEntries {
		if strings.HasPrefix(entry.Name(), tmpPrefix) {
			continue
		}
		entries = append(entries, Entry{Name: entry.Name(), IsDir: entry.IsDir()})
	}
	// os.ReadDir already sorts by name; re-sorting keeps the contract
	// independent of that implementation detail.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (d *Dir) IsDir(path string) (bool, error) {
	info, err := os.Stat(d.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, pathError("is_dir", path, unwrapOS(err))
	}
	return info.IsDir(), nil
}

func (d *Dir) Exists(path string) (bool, error) {
	_, err := os.Stat(d.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, pathError("exists", path, unwrapOS(err))
	}
	return true, nil
}

func (d *Dir) CreateDir(path string) error {
	if err := os.Mkdir(d.resolve(path), 0o755); err != nil {
		return pathError("create_dir", path, unwrapOS(err))
	}
	return nil
}

func (d *Dir) CreateDirAll(path string) error {
	if err := os.MkdirAll(d.resolve(path), 0o755); err != nil {
		return pathError("create_dir_all", path, unwrapOS(err))
	}
	return nil
}

func (d *Dir) Remove(path string) error {
	target := d.resolve(path)
	info, err := os.Stat(target)
	if err != nil {
		return pathError("remove", path, unwrapOS(err))
	}
	if info.IsDir() {
		return pathError("remove", path, ErrIsDir)
	}
	if err := os.Remove(target); err != nil {
		return pathError("remove", path, unwrapOS(err))
	}
	return nil
}

func (d *Dir) RemoveDir(path string) error {
	target := d.resolve(path)
	info, err := os.Stat(target)
	if err != nil {
		return pathError("remove_dir", path, unwrapOS(err))
	}
	if !info.IsDir() {
		return pathError("remove_dir", path, ErrNotDir)
	}
	if err := os.RemoveAll(target); err != nil {
		return pathError("remove_dir", path, unwrapOS(err))
	}
	return nil
}

func (d *Dir) Rename(from, to string) error {
	if err := os.Rename(d.resolve(from), d.resolve(to)); err != nil {
		return pathError("rename", from, unwrapOS(err))
	}
	return nil
}

// dirWriter implements the commit-on-close contract for the local
// disk backend: bytes stream into a temp file, Close fsyncs and
// renames into place. An abandoned writer leaves only the filtered
// temp file behind; the target is untouched.
type dirWriter struct {
	file    *os.File
	tmpPath string
	target  string
	path    string
	closed  bool
}

func (w *dirWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		return n, pathError("write", w.path, err)
	}
	return n, nil
}

func (w *dirWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return pathError("close", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return pathError("close", w.path, err)
	}
	if err := os.Rename(w.tmpPath, w.target); err != nil {
		os.Remove(w.tmpPath)
		return pathError("close", w.path, unwrapOS(err))
	}
	return nil
}

// unwrapOS strips the *os.PathError wrapper so the vfs PathError
// carries the bare cause (fs.ErrNotExist and friends) like the pure
// Go backends do. The OS path inside the wrapper is host-absolute
// and would leak the root into error text.
func unwrapOS(err error) error {
	if pe, ok := err.(*os.PathError); ok {
		return pe.Err
	}
	if le, ok := err.(*os.LinkError); ok {
		return le.Err
	}
	return err
}
