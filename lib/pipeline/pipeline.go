// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline drives one reconciliation of a source tree
// against the artifact cache: scan, import, dependency-ordered
// processing, commit, eviction, and the dependency-refresh loop.
// The pipeline is the host's single entry point; scanner, importer,
// and cache are its internals.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kilnworks/kiln/lib/asset"
	"github.com/kilnworks/kiln/lib/cache"
	"github.com/kilnworks/kiln/lib/importer"
	"github.com/kilnworks/kiln/lib/library"
	"github.com/kilnworks/kiln/lib/registry"
	"github.com/kilnworks/kiln/lib/scanner"
	"github.com/kilnworks/kiln/lib/vfs"
)

// Options tune a pipeline.
type Options struct {
	// BatchSize bounds import parallelism. Zero selects the
	// importer's default.
	BatchSize int

	// Logger receives progress and diagnostics. Nil selects
	// slog.Default.
	Logger *slog.Logger
}

// Pipeline owns one cache and the sources reconciled into it.
type Pipeline struct {
	store    *cache.Store
	library  *library.Library
	registry *registry.Registry
	importer *importer.Importer
	sources  map[string]vfs.Backend
	logger   *slog.Logger
}

// New creates a pipeline over an initialized cache store. The
// library is loaded from the store; a fresh cache starts empty.
func New(store *cache.Store, reg *registry.Registry, options Options) (*Pipeline, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lib, err := store.Init()
	if err != nil {
		return nil, fmt.Errorf("initializing cache: %w", err)
	}
	return &Pipeline{
		store:    store,
		library:  lib,
		registry: reg,
		importer: importer.New(store, lib, reg, options.BatchSize, logger),
		sources:  make(map[string]vfs.Backend),
		logger:   logger,
	}, nil
}

// AddSource registers a named source backend. Sources are fixed
// before the first Reconcile; AddSource is not safe to call
// concurrently with it.
func (p *Pipeline) AddSource(name string, backend vfs.Backend) {
	p.sources[name] = backend
	p.importer.AddSource(name, backend)
}

// Library returns the live asset library. Callers may read it
// concurrently with a running reconcile.
func (p *Pipeline) Library() *library.Library {
	return p.library
}

// Store returns the underlying cache store, for hosts that load
// committed artifacts directly.
func (p *Pipeline) Store() *cache.Store {
	return p.store
}

// Report summarizes one reconcile for the host.
type Report struct {
	// Imported holds ids committed for the first time.
	Imported []asset.ID

	// Reloaded holds ids whose artifact was rebuilt; the host should
	// drop any loaded copy.
	Reloaded []asset.ID

	// Removed holds ids evicted from the cache.
	Removed []asset.ID

	// Errors holds every per-path and per-artifact failure of the
	// pass. A non-empty Errors does not mean the pass failed; the
	// offending ids were evicted and everything else committed.
	Errors []error
}

// Reconcile scans one source tree under root ("" for the whole
// source) and drives imports, processing, and evictions until the
// cache reflects the tree. The scan mode selects change detection
// for the first pass; refresh passes always run dependency checks.
//
// On every exit, including cancellation and a dependency cycle, the
// library has been saved and the cache left consistent. A cancelled
// pass leaves temp/ behind; the next Init clears it.
func (p *Pipeline) Reconcile(ctx context.Context, source, root string, mode scanner.Mode) (report *Report, err error) {
	backend, ok := p.sources[source]
	if !ok {
		return nil, &asset.InvalidSourceError{Source: source}
	}
	// The previous pass removed temp/ on exit.
	if err := p.store.EnsureTemp(); err != nil {
		return nil, fmt.Errorf("creating temp: %w", err)
	}

	report = &Report{}
	defer func() {
		if saveErr := p.store.SaveLibrary(p.library); saveErr != nil && err == nil {
			err = fmt.Errorf("saving library: %w", saveErr)
		}
		if ctx.Err() == nil {
			if tempErr := p.store.RemoveTemp(); tempErr != nil && err == nil {
				err = fmt.Errorf("clearing temp: %w", tempErr)
			}
		}
	}()

	scan := scanner.New(source, backend, p.library, p.store, p.registry, p.logger)
	first, err := scan.Scan(ctx, root, mode)
	if err != nil {
		return report, err
	}
	report.Errors = append(report.Errors, first.Errors...)

	for _, removed := range first.RemovedPaths() {
		p.removePath(removed, report)
	}

	paths := first.Pending()
	imported := make(map[asset.SourcePath]bool)

	for len(paths) > 0 {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		for _, path := range paths {
			imported[path] = true
		}

		staged, err := p.importer.Import(ctx, paths)
		if err != nil {
			return report, err
		}
		p.collectFailures(staged.Errors, report)

		groups, err := topoGroups(staged.Artifacts)
		if err != nil {
			// Nothing staged this round will commit. Entries whose id
			// has no committed artifact from an earlier pass must not
			// persist in the saved library.
			for _, artifact := range staged.Artifacts {
				committed, hasErr := p.store.HasArtifact(artifact.Meta.ID)
				if hasErr == nil && !committed {
					p.library.Remove(artifact.Meta.Path)
				}
			}
			report.Errors = append(report.Errors, err)
			return report, err
		}

		state := newPassState(staged.Artifacts)
		var stale []asset.ID
		for _, group := range groups {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			stale = append(stale, p.processGroup(ctx, group, state, report)...)
		}
		// Orphaned children are evicted only after every group has
		// finished, so no dependent still processing can reference
		// them.
		for _, id := range stale {
			p.evict(id, report)
		}

		refresh, err := scan.Scan(ctx, root, scanner.DepsModified)
		if err != nil {
			return report, err
		}
		report.Errors = append(report.Errors, refresh.Errors...)

		paths = paths[:0]
		for _, path := range refresh.Pending() {
			if !imported[path] {
				paths = append(paths, path)
			}
		}
	}

	p.logger.Info("reconcile complete",
		"source", source,
		"root", root,
		"imported", len(report.Imported),
		"reloaded", len(report.Reloaded),
		"removed", len(report.Removed),
		"errors", len(report.Errors))
	return report, nil
}

// collectFailures records import errors and evicts the prior
// artifacts of the paths that failed, so a broken source never
// leaves a stale artifact behind.
func (p *Pipeline) collectFailures(failures []error, report *Report) {
	for _, failure := range failures {
		report.Errors = append(report.Errors, failure)
		if path, ok := errorPath(failure); ok {
			if info, ok := p.library.Get(path); ok {
				p.evict(info.ID, report)
				p.library.Remove(path)
			}
		}
	}
}

// errorPath extracts the source path a per-path failure refers to.
func errorPath(err error) (asset.SourcePath, bool) {
	var (
		missingExt  *asset.MissingExtensionError
		invalidExt  *asset.InvalidExtensionError
		missingMain *asset.MissingMainAssetError
		unreg       *asset.UnRegisteredError
		missingPath *asset.MissingPathError
		importErr   *asset.ImportError
		processErr  *asset.ProcessError
	)
	switch {
	case errors.As(err, &missingExt):
		return missingExt.Path, true
	case errors.As(err, &invalidExt):
		return invalidExt.Path, true
	case errors.As(err, &missingMain):
		return missingMain.Path, true
	case errors.As(err, &unreg):
		return unreg.Path, !unreg.Path.IsZero()
	case errors.As(err, &missingPath):
		return missingPath.Path, true
	case errors.As(err, &importErr):
		return importErr.Path, true
	case errors.As(err, &processErr):
		return processErr.Path, true
	default:
		return asset.SourcePath{}, false
	}
}

// removePath evicts everything the library holds under a removed
// path: the file's own entry, or every entry under it when the
// removed path was a directory.
func (p *Pipeline) removePath(removed asset.SourcePath, report *Report) {
	if info, ok := p.library.Get(removed); ok {
		p.evict(info.ID, report)
		p.library.Remove(removed)
		return
	}
	prefix := removed.Path + "/"
	for _, entry := range p.library.Snapshot() {
		if entry.Path.Source != removed.Source || !strings.HasPrefix(entry.Path.Path, prefix) {
			continue
		}
		p.evict(entry.Info.ID, report)
		p.library.Remove(entry.Path)
	}
}

// evict removes one artifact and, recursively, its children. Library
// entries referencing the id go with it. Missing artifact files are
// fine: eviction is idempotent.
func (p *Pipeline) evict(id asset.ID, report *Report) {
	meta, err := p.store.LoadArtifactMeta(id)
	if err == nil {
		for _, child := range meta.Children {
			p.evict(child, report)
		}
	} else if !vfs.IsNotExist(err) {
		report.Errors = append(report.Errors, err)
	}

	if exists, _ := p.store.HasArtifact(id); exists {
		if err := p.store.RemoveArtifact(p.store.ArtifactPath(id)); err != nil {
			report.Errors = append(report.Errors, err)
			return
		}
		report.Removed = append(report.Removed, id)
	}
	p.library.RemoveID(id)
}
