// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package importer turns scanned source paths into staged artifacts.
// Each path is read, matched to a registered importer by extension,
// run through its import callback, and written to the cache's temp
// area; the library records the path's fresh id and checksum. Paths
// are worked in bounded-width parallel batches, and one path's
// failure never aborts the batch.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kilnworks/kiln/lib/asset"
	"github.com/kilnworks/kiln/lib/cache"
	"github.com/kilnworks/kiln/lib/codec"
	"github.com/kilnworks/kiln/lib/library"
	"github.com/kilnworks/kiln/lib/registry"
	"github.com/kilnworks/kiln/lib/sidecar"
	"github.com/kilnworks/kiln/lib/vfs"
)

// DefaultBatchSize bounds how many paths import concurrently.
const DefaultBatchSize = 100

// Importer stages artifacts for the pipeline.
type Importer struct {
	sources   map[string]vfs.Backend
	store     *cache.Store
	library   *library.Library
	registry  *registry.Registry
	codec     sidecar.Codec
	batchSize int
	logger    *slog.Logger
}

// New creates an importer. batchSize <= 0 selects DefaultBatchSize.
func New(store *cache.Store, lib *library.Library, reg *registry.Registry, batchSize int, logger *slog.Logger) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		sources:   make(map[string]vfs.Backend),
		store:     store,
		library:   lib,
		registry:  reg,
		codec:     store.SidecarCodec(),
		batchSize: batchSize,
		logger:    logger,
	}
}

// AddSource registers a named source backend. Not safe to call
// concurrently with Import.
func (imp *Importer) AddSource(name string, backend vfs.Backend) {
	imp.sources[name] = backend
}

// Result collects one Import call's staged artifacts and per-path
// failures. Artifacts holds primaries followed by their children, in
// no particular cross-path order.
type Result struct {
	Artifacts []*asset.Artifact
	Errors    []error
}

// Import stages every path and returns the staged artifacts. Paths
// run in batches: each batch fans out one goroutine per path and the
// next batch starts once all have finished. Cancellation is checked
// between batches; in-flight paths complete.
func (imp *Importer) Import(ctx context.Context, paths []asset.SourcePath) (*Result, error) {
	result := &Result{}
	for start := 0; start < len(paths); start += imp.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+imp.batchSize, len(paths))
		batch := paths[start:end]

		staged := make([][]*asset.Artifact, len(batch))
		failures := make([]error, len(batch))

		var wg sync.WaitGroup
		for i, path := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				staged[i], failures[i] = imp.importPath(ctx, path)
			}()
		}
		wg.Wait()

		for i := range batch {
			if failures[i] != nil {
				result.Errors = append(result.Errors, failures[i])
				continue
			}
			result.Artifacts = append(result.Artifacts, staged[i]...)
		}
	}
	imp.logger.Debug("import complete",
		"paths", len(paths),
		"artifacts", len(result.Artifacts),
		"errors", len(result.Errors))
	return result, nil
}

// importPath stages one source file: the primary artifact first,
// then its children.
func (imp *Importer) importPath(ctx context.Context, path asset.SourcePath) ([]*asset.Artifact, error) {
	backend, ok := imp.sources[path.Source]
	if !ok {
		return nil, &asset.InvalidSourceError{Source: path.Source}
	}

	extension := path.Ext()
	if extension == "" {
		return nil, &asset.MissingExtensionError{Path: path}
	}
	binding, ok := imp.registry.Binding(extension)
	if !ok {
		return nil, &asset.InvalidExtensionError{Path: path, Extension: extension}
	}
	meta, ok := imp.registry.Meta(binding.Type)
	if !ok {
		return nil, &asset.UnRegisteredError{Type: binding.Type, Path: path}
	}

	sourceBytes, err := vfs.ReadFile(backend, path.Path)
	if vfs.IsNotExist(err) {
		return nil, &asset.MissingPathError{Path: path}
	}
	if err != nil {
		return nil, &asset.ImportError{Path: path, Err: err}
	}

	id, settings, err := imp.loadOrCreateSidecar(backend, path, binding.Type, meta)
	if err != nil {
		return nil, err
	}

	settingsBytes, err := codec.Marshal(settings)
	if err != nil {
		return nil, &asset.ImportError{Path: path, Err: err}
	}
	checksum := asset.Checksum(sourceBytes, settingsBytes)

	imported, err := meta.Importers[binding.Importer](ctx, &registry.ImportRequest{
		Path:     path,
		Data:     sourceBytes,
		Settings: settings,
	})
	if err != nil {
		return nil, &asset.ImportError{Path: path, Err: err}
	}
	if imported == nil || imported.Value == nil {
		return nil, &asset.MissingMainAssetError{Path: path}
	}

	payload, err := meta.Serialize(imported.Value)
	if err != nil {
		return nil, &asset.ImportError{Path: path, Err: err}
	}

	primary := &asset.Artifact{
		Meta: asset.ArtifactMeta{
			ID:           id,
			Checksum:     checksum,
			Path:         path,
			Dependencies: imported.Dependencies,
		},
		Payload: payload,
	}

	artifacts := []*asset.Artifact{primary}
	seen := make(map[asset.ID]bool)
	for _, sub := range imported.SubAssets {
		child, err := imp.buildChild(path, id, checksum, sub)
		if err != nil {
			return nil, err
		}
		if seen[child.Meta.ID] {
			return nil, &asset.ImportError{Path: path, Err: fmt.Errorf("duplicate sub-asset name %q", sub.Name)}
		}
		seen[child.Meta.ID] = true
		primary.Meta.Children = append(primary.Meta.Children, child.Meta.ID)
		artifacts = append(artifacts, child)
	}

	for _, artifact := range artifacts {
		if err := imp.store.SaveArtifact(imp.store.TempArtifactPath(artifact.Meta.ID), artifact); err != nil {
			return nil, &asset.ImportError{Path: path, Err: err}
		}
	}

	imp.library.Add(path, asset.Info{ID: id, Checksum: checksum})
	return artifacts, nil
}

// loadOrCreateSidecar returns the path's persistent id and decoded
// settings. A missing sidecar allocates a fresh id with default
// settings and writes the sidecar back so the id survives the next
// import.
func (imp *Importer) loadOrCreateSidecar(backend vfs.Backend, path asset.SourcePath, typ asset.Type, meta *registry.AssetMeta) (asset.ID, any, error) {
	sidecarPath := sidecar.PathFor(path)
	data, err := vfs.ReadFile(backend, sidecarPath.Path)
	if vfs.IsNotExist(err) {
		id := asset.NewID(typ)
		settings := meta.DefaultSettings()
		encoded, err := imp.codec.EncodeSettings(id, settings)
		if err != nil {
			return asset.ID{}, nil, &asset.ImportError{Path: path, Err: err}
		}
		if err := vfs.WriteFile(backend, sidecarPath.Path, encoded); err != nil {
			return asset.ID{}, nil, &asset.ImportError{Path: path, Err: err}
		}
		return id, settings, nil
	}
	if err != nil {
		return asset.ID{}, nil, &asset.ImportError{Path: path, Err: err}
	}

	id, settings, err := imp.codec.DecodeSettings(data, meta.DecodeSettings)
	if err != nil {
		return asset.ID{}, nil, &asset.ImportError{Path: path, Err: err}
	}
	if id.IsZero() {
		// Hand-written sidecar without an id: allocate one and
		// rewrite so it sticks.
		id = asset.NewID(typ)
		encoded, err := imp.codec.EncodeSettings(id, settings)
		if err != nil {
			return asset.ID{}, nil, &asset.ImportError{Path: path, Err: err}
		}
		if err := vfs.WriteFile(backend, sidecarPath.Path, encoded); err != nil {
			return asset.ID{}, nil, &asset.ImportError{Path: path, Err: err}
		}
	}
	return id, settings, nil
}

// buildChild serializes one sub-asset into a child artifact. The
// child's id is derived from the primary id and the sub-asset name,
// so reimports keep child ids stable.
func (imp *Importer) buildChild(path asset.SourcePath, parent asset.ID, checksum uint32, sub registry.SubAsset) (*asset.Artifact, error) {
	meta, ok := imp.registry.Meta(sub.Type)
	if !ok {
		return nil, &asset.UnRegisteredError{Type: sub.Type, Path: path}
	}
	payload, err := meta.Serialize(sub.Value)
	if err != nil {
		return nil, &asset.ImportError{Path: path, Err: err}
	}
	parentID := parent
	return &asset.Artifact{
		Meta: asset.ArtifactMeta{
			ID:           asset.DeriveID(parent, sub.Type, sub.Name),
			Checksum:     checksum,
			Path:         path,
			Parent:       &parentID,
			Dependencies: sub.Dependencies,
		},
		Payload: payload,
	}, nil
}
