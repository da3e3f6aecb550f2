// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package library implements the asset library: the bidirectional
// index between source paths and asset ids, with the per-asset
// checksum record used for change detection.
//
// The library is the pipeline's only shared mutable object. It is
// guarded by a single read/write lock: scans read, imports and
// evictions write, and serialization snapshots to a plain value
// under the lock so no disk I/O ever happens while the lock is held.
package library

import (
	"sort"
	"sync"

	"github.com/kilnworks/kiln/lib/asset"
)

// Library is the in-memory path ↔ id index. Both directions are kept
// consistent as one value: for every (path, info) present,
// GetID(path) = info.ID and GetPath(info.ID) = path.
type Library struct {
	mu     sync.RWMutex
	byPath map[asset.SourcePath]asset.Info
	byID   map[asset.ID]asset.SourcePath
}

// New creates an empty library.
func New() *Library {
	return &Library{
		byPath: make(map[asset.SourcePath]asset.Info),
		byID:   make(map[asset.ID]asset.SourcePath),
	}
}

// Add records (path → info), replacing any previous pairing for
// either the path or the id so the bijection holds: a stale reverse
// entry for the path's old id is removed, as is a stale forward
// entry for the id's old path.
func (l *Library) Add(path asset.SourcePath, info asset.Info) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if previous, ok := l.byPath[path]; ok && previous.ID != info.ID {
		delete(l.byID, previous.ID)
	}
	if previousPath, ok := l.byID[info.ID]; ok && previousPath != path {
		delete(l.byPath, previousPath)
	}
	l.byPath[path] = info
	l.byID[info.ID] = path
}

// Remove deletes the record for path, returning the removed info.
func (l *Library) Remove(path asset.SourcePath) (asset.Info, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.byPath[path]
	if !ok {
		return asset.Info{}, false
	}
	delete(l.byPath, path)
	delete(l.byID, info.ID)
	return info, true
}

// RemoveID deletes the record for an id, returning the path it was
// indexed under. Used by eviction, which works from artifact
// metadata rather than source paths.
func (l *Library) RemoveID(id asset.ID) (asset.SourcePath, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path, ok := l.byID[id]
	if !ok {
		return asset.SourcePath{}, false
	}
	delete(l.byID, id)
	delete(l.byPath, path)
	return path, true
}

// Get returns the info recorded for path.
func (l *Library) Get(path asset.SourcePath) (asset.Info, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info, ok := l.byPath[path]
	return info, ok
}

// GetID returns the id recorded for path.
func (l *Library) GetID(path asset.SourcePath) (asset.ID, bool) {
	info, ok := l.Get(path)
	return info.ID, ok
}

// GetPath returns the path recorded for an id.
func (l *Library) GetPath(id asset.ID) (asset.SourcePath, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	path, ok := l.byID[id]
	return path, ok
}

// GetByID returns the info recorded for an id.
func (l *Library) GetByID(id asset.ID) (asset.Info, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	path, ok := l.byID[id]
	if !ok {
		return asset.Info{}, false
	}
	return l.byPath[path], true
}

// Contains reports whether path has a record.
func (l *Library) Contains(path asset.SourcePath) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.byPath[path]
	return ok
}

// Len returns the number of records.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.byPath)
}

// Clear removes every record.
func (l *Library) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.byPath)
	clear(l.byID)
}

// Entry is one (path, info) record in a library snapshot.
type Entry struct {
	Path asset.SourcePath `json:"path" toml:"path"`
	Info asset.Info       `json:"info" toml:"info"`
}

// Snapshot copies the library into a plain value, sorted by path for
// deterministic serialization. The caller encodes the snapshot to
// disk with no lock held.
func (l *Library) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]Entry, 0, len(l.byPath))
	for path, info := range l.byPath {
		entries = append(entries, Entry{Path: path, Info: info})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Path.Source != entries[j].Path.Source {
			return entries[i].Path.Source < entries[j].Path.Source
		}
		return entries[i].Path.Path < entries[j].Path.Path
	})
	return entries
}

// Replace swaps the library's contents for the given entries.
// Later entries win on conflicts, matching Add semantics.
func (l *Library) Replace(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.byPath)
	clear(l.byID)
	for _, entry := range entries {
		if previous, ok := l.byPath[entry.Path]; ok {
			delete(l.byID, previous.ID)
		}
		if previousPath, ok := l.byID[entry.Info.ID]; ok {
			delete(l.byPath, previousPath)
		}
		l.byPath[entry.Path] = entry.Info
		l.byID[entry.Info.ID] = entry.Path
	}
}
