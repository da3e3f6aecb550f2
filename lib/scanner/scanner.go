// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package scanner walks a source tree and classifies every file
// against the asset library: newly seen paths, paths whose bytes or
// settings changed, paths whose dependency chain changed, and paths
// the previous scan saw but that are gone now. The pipeline turns
// the verdicts into import and eviction work.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kilnworks/kiln/lib/asset"
	"github.com/kilnworks/kiln/lib/cache"
	"github.com/kilnworks/kiln/lib/codec"
	"github.com/kilnworks/kiln/lib/library"
	"github.com/kilnworks/kiln/lib/registry"
	"github.com/kilnworks/kiln/lib/sidecar"
	"github.com/kilnworks/kiln/lib/vfs"
)

// Mode is a bit set selecting which change signals a scan considers.
type Mode uint32

const (
	// SourceModified recomputes each file's checksum from its source
	// and settings bytes and compares it to the library record.
	SourceModified Mode = 1 << iota

	// DepsModified walks each artifact's recorded dependency
	// checksums and flags the file when any dependency's current
	// library checksum differs.
	DepsModified

	// Force classifies every file as Added without reading anything.
	Force
)

// Full scans for both source and dependency changes. It is the mode
// of the first pass of a reconcile.
const Full = SourceModified | DepsModified

// Kind classifies one scanned path.
type Kind int

const (
	// Added paths have no library entry yet.
	Added Kind = iota
	// Modified paths have a library entry but a stale checksum or a
	// changed dependency chain.
	Modified
	// Removed paths appear in the previous folder record but not on
	// disk.
	Removed
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Verdict is one classified path. Verdict order within a scan is
// unspecified.
type Verdict struct {
	Kind Kind
	Path asset.SourcePath
}

// Result collects the verdicts and errors of one scan. A read or
// metadata failure on one path never aborts the scan; it lands in
// Errors and the walk continues.
type Result struct {
	Verdicts []Verdict
	Errors   []error
}

// Pending returns the Added and Modified paths, the importer's work
// list.
func (r *Result) Pending() []asset.SourcePath {
	var paths []asset.SourcePath
	for _, verdict := range r.Verdicts {
		if verdict.Kind == Added || verdict.Kind == Modified {
			paths = append(paths, verdict.Path)
		}
	}
	return paths
}

// RemovedPaths returns the Removed paths.
func (r *Result) RemovedPaths() []asset.SourcePath {
	var paths []asset.SourcePath
	for _, verdict := range r.Verdicts {
		if verdict.Kind == Removed {
			paths = append(paths, verdict.Path)
		}
	}
	return paths
}

// Scanner classifies the files of one source against the library and
// the artifact cache.
type Scanner struct {
	source   string
	backend  vfs.Backend
	library  *library.Library
	store    *cache.Store
	registry *registry.Registry
	codec    sidecar.Codec
	logger   *slog.Logger
}

// New creates a scanner for one named source backend.
func New(source string, backend vfs.Backend, lib *library.Library, store *cache.Store, reg *registry.Registry, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		source:   source,
		backend:  backend,
		library:  lib,
		store:    store,
		registry: reg,
		codec:    store.SidecarCodec(),
		logger:   logger,
	}
}

// Scan walks the tree under root (a relative path, "" for the whole
// source) and returns the verdicts. Cancellation is checked at
// directory boundaries; a cancelled scan returns ctx.Err with the
// partial result discarded.
func (s *Scanner) Scan(ctx context.Context, root string, mode Mode) (*Result, error) {
	result := &Result{}
	dir := asset.NewSourcePath(s.source, root)
	if err := s.scanDir(ctx, dir, mode, result); err != nil {
		return nil, err
	}
	s.logger.Debug("scan complete",
		"source", s.source,
		"root", root,
		"verdicts", len(result.Verdicts),
		"errors", len(result.Errors))
	return result, nil
}

func (s *Scanner) scanDir(ctx context.Context, dir asset.SourcePath, mode Mode, result *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := s.backend.ReadDir(dir.Path)
	if err != nil {
		result.Errors = append(result.Errors, &asset.ImportError{Path: dir, Err: err})
		return nil
	}

	// Files and directories the folder record tracks: everything
	// except sidecars.
	var children []string

	for _, entry := range entries {
		child := dir.Join(entry.Name)
		if entry.IsDir {
			children = append(children, entry.Name)
			if err := s.scanDir(ctx, child, mode, result); err != nil {
				return err
			}
			continue
		}
		if child.Ext() == sidecar.Extension {
			continue
		}
		children = append(children, entry.Name)
		s.classify(child, mode, result)
	}

	s.reconcileFolder(dir, children, result)
	return nil
}

// classify emits the verdict for one file.
func (s *Scanner) classify(path asset.SourcePath, mode Mode, result *Result) {
	if mode&Force != 0 {
		result.Verdicts = append(result.Verdicts, Verdict{Kind: Added, Path: path})
		return
	}

	info, ok := s.library.Get(path)
	if !ok {
		result.Verdicts = append(result.Verdicts, Verdict{Kind: Added, Path: path})
		return
	}

	if mode&SourceModified != 0 {
		checksum, err := s.checksum(path)
		if err != nil {
			result.Errors = append(result.Errors, err)
			return
		}
		if checksum != info.Checksum {
			result.Verdicts = append(result.Verdicts, Verdict{Kind: Modified, Path: path})
			return
		}
	}

	if mode&DepsModified != 0 {
		changed, err := s.depsChanged(info.ID, make(map[asset.ID]bool))
		if err != nil {
			result.Errors = append(result.Errors, err)
			return
		}
		if changed {
			result.Verdicts = append(result.Verdicts, Verdict{Kind: Modified, Path: path})
		}
	}
}

// checksum recomputes a file's checksum the way the importer records
// it: CRC32 over the source bytes followed by the canonical encoding
// of the decoded settings.
func (s *Scanner) checksum(path asset.SourcePath) (uint32, error) {
	binding, ok := s.registry.Binding(path.Ext())
	if !ok {
		return 0, &asset.UnRegisteredError{Path: path}
	}
	meta, ok := s.registry.Meta(binding.Type)
	if !ok {
		return 0, &asset.UnRegisteredError{Type: binding.Type, Path: path}
	}

	sourceBytes, err := vfs.ReadFile(s.backend, path.Path)
	if err != nil {
		return 0, &asset.ImportError{Path: path, Err: err}
	}

	var settings any
	sidecarData, err := vfs.ReadFile(s.backend, sidecar.PathFor(path).Path)
	switch {
	case vfs.IsNotExist(err):
		settings = meta.DefaultSettings()
	case err != nil:
		return 0, &asset.ImportError{Path: path, Err: err}
	default:
		_, settings, err = s.codec.DecodeSettings(sidecarData, meta.DecodeSettings)
		if err != nil {
			return 0, &asset.ImportError{Path: path, Err: err}
		}
	}

	settingsBytes, err := codec.Marshal(settings)
	if err != nil {
		return 0, &asset.ImportError{Path: path, Err: err}
	}
	return asset.Checksum(sourceBytes, settingsBytes), nil
}

// depsChanged reports whether any checksum recorded at process time
// differs from the library's current record for that dependency,
// walking transitively. An artifact that was never processed, or
// whose artifact file is gone, counts as changed. The visited set
// makes dependency cycles terminate.
func (s *Scanner) depsChanged(id asset.ID, visited map[asset.ID]bool) (bool, error) {
	if visited[id] {
		return false, nil
	}
	visited[id] = true

	meta, err := s.store.LoadArtifactMeta(id)
	if vfs.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if meta.Processed == nil {
		return len(meta.Dependencies) > 0, nil
	}

	for _, record := range meta.Processed.Dependencies {
		current, ok := s.library.GetByID(record.ID)
		if !ok || current.Checksum != record.Checksum {
			return true, nil
		}
		changed, err := s.depsChanged(record.ID, visited)
		if err != nil {
			return false, err
		}
		if changed {
			return true, nil
		}
	}
	return false, nil
}

// reconcileFolder diffs the directory's current children against the
// stored folder record, emits Removed for the missing ones, and
// rewrites the record when it drifted.
func (s *Scanner) reconcileFolder(dir asset.SourcePath, children []string, result *Result) {
	recordPath := sidecar.FolderPathFor(dir)

	var stored []string
	data, err := vfs.ReadFile(s.backend, recordPath.Path)
	switch {
	case vfs.IsNotExist(err):
		// First scan of this directory.
	case err != nil:
		result.Errors = append(result.Errors, &asset.ImportError{Path: recordPath, Err: err})
		return
	default:
		stored, err = s.codec.DecodeFolder(data)
		if err != nil {
			result.Errors = append(result.Errors, &asset.ImportError{Path: recordPath, Err: err})
			return
		}
	}

	current := make(map[string]bool, len(children))
	for _, name := range children {
		current[name] = true
	}
	for _, name := range stored {
		if !current[name] {
			result.Verdicts = append(result.Verdicts, Verdict{Kind: Removed, Path: dir.Join(name)})
		}
	}

	if folderDrifted(stored, children) {
		encoded, err := s.codec.EncodeFolder(children)
		if err != nil {
			result.Errors = append(result.Errors, &asset.ImportError{Path: recordPath, Err: err})
			return
		}
		if err := vfs.WriteFile(s.backend, recordPath.Path, encoded); err != nil {
			result.Errors = append(result.Errors, &asset.ImportError{Path: recordPath, Err: err})
		}
	}
}

// folderDrifted reports whether the stored record and the current
// children differ as sets.
func folderDrifted(stored, current []string) bool {
	if len(stored) != len(current) {
		return true
	}
	a := make([]string, len(stored))
	b := make([]string, len(current))
	copy(a, stored)
	copy(b, current)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}
