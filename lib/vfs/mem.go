// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"sync"
)

// Mem is an in-memory Backend. It is the conformance oracle for the
// backend contract: every other backend must behave identically
// under the shared property tests in this package.
//
// Mem is safe for concurrent use.
type Mem struct {
	mu   sync.RWMutex
	root *memNode
}

type memNode struct {
	dir      bool
	data     []byte
	children map[string]*memNode
}

func newMemDir() *memNode {
	return &memNode{dir: true, children: make(map[string]*memNode)}
}

// NewMem creates an empty in-memory backend.
func NewMem() *Mem {
	return &Mem{root: newMemDir()}
}

// splitPath breaks a clean slash path into segments. The empty path
// (the root) yields nil.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// lookup walks to the node at path. Caller holds the lock.
func (m *Mem) lookup(path string) (*memNode, bool) {
	node := m.root
	for _, segment := range splitPath(path) {
		if !node.dir {
			return nil, false
		}
		child, ok := node.children[segment]
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

// lookupParent walks to the parent directory of path and returns it
// with the final segment. Caller holds the lock.
func (m *Mem) lookupParent(op, path string) (*memNode, string, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, "", pathError(op, path, ErrIsDir)
	}

	node := m.root
	for _, segment := range segments[:len(segments)-1] {
		child, ok := node.children[segment]
		if !ok {
			return nil, "", pathError(op, path, ErrNotExist)
		}
		if !child.dir {
			return nil, "", pathError(op, path, ErrNotDir)
		}
		node = child
	}
	return node, segments[len(segments)-1], nil
}

func (m *Mem) Reader(path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.lookup(path)
	if !ok {
		return nil, pathError("reader", path, ErrNotExist)
	}
	if node.dir {
		return nil, pathError("reader", path, ErrIsDir)
	}
	// Snapshot so later writes do not mutate an open reader.
	snapshot := make([]byte, len(node.data))
	copy(snapshot, node.data)
	return io.NopCloser(bytes.NewReader(snapshot)), nil
}

func (m *Mem) Writer(path string) (io.WriteCloser, error) {
	m.mu.RLock()
	parent, name, err := m.lookupParent("writer", path)
	if err == nil {
		if existing, ok := parent.children[name]; ok && existing.dir {
			err = pathError("writer", path, ErrIsDir)
		}
	}
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return &memWriter{backend: m, path: path}, nil
}

func (m *Mem) ReadDir(path string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.lookup(path)
	if !ok {
		return nil, pathError("read_dir", path, ErrNotExist)
	}
	if !node.dir {
		return nil, pathError("read_dir", path, ErrNotDir)
	}

	entries := make([]Entry, 0, len(node.children))
	for name, child := range node.children {
		entries = append(entries, Entry{Name: name, IsDir: child.dir})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (m *Mem) IsDir(path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.lookup(path)
	return ok && node.dir, nil
}

func (m *Mem) Exists(path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.lookup(path)
	return ok, nil
}

func (m *Mem) CreateDir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, name, err := m.lookupParent("create_dir", path)
	if err != nil {
		return err
	}
	if _, exists := parent.children[name]; exists {
		return pathError("create_dir", path, ErrExist)
	}
	parent.children[name] = newMemDir()
	return nil
}

func (m *Mem) CreateDirAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.root
	for _, segment := range splitPath(path) {
		child, ok := node.children[segment]
		if !ok {
			child = newMemDir()
			node.children[segment] = child
		} else if !child.dir {
			return pathError("create_dir_all", path, ErrNotDir)
		}
		node = child
	}
	return nil
}

func (m *Mem) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, name, err := m.lookupParent("remove", path)
	if err != nil {
		return err
	}
	node, ok := parent.children[name]
	if !ok {
		return pathError("remove", path, ErrNotExist)
	}
	if node.dir {
		return pathError("remove", path, ErrIsDir)
	}
	delete(parent.children, name)
	return nil
}

func (m *Mem) RemoveDir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, name, err := m.lookupParent("remove_dir", path)
	if err != nil {
		return err
	}
	node, ok := parent.children[name]
	if !ok {
		return pathError("remove_dir", path, ErrNotExist)
	}
	if !node.dir {
		return pathError("remove_dir", path, ErrNotDir)
	}
	delete(parent.children, name)
	return nil
}

func (m *Mem) Rename(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fromParent, fromName, err := m.lookupParent("rename", from)
	if err != nil {
		return err
	}
	node, ok := fromParent.children[fromName]
	if !ok {
		return pathError("rename", from, ErrNotExist)
	}

	toParent, toName, err := m.lookupParent("rename", to)
	if err != nil {
		return err
	}

	delete(fromParent.children, fromName)
	toParent.children[toName] = node
	return nil
}

// memWriter buffers writes and publishes the file on Close, matching
// the commit-on-close contract of the disk backend. An abandoned
// writer leaves the backend untouched.
type memWriter struct {
	backend *Mem
	path    string
	buffer  bytes.Buffer
	closed  bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.buffer.Write(p)
}

func (w *memWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()

	parent, name, err := w.backend.lookupParent("close", w.path)
	if err != nil {
		return err
	}
	if existing, ok := parent.children[name]; ok && existing.dir {
		return pathError("close", w.path, ErrIsDir)
	}
	parent.children[name] = &memNode{data: w.buffer.Bytes()}
	return nil
}
