// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilnworks/kiln/lib/asset"
	"github.com/kilnworks/kiln/lib/registry"
	"github.com/kilnworks/kiln/lib/vfs"
)

// outcome is one artifact's process result.
type outcome struct {
	stale    []asset.ID
	reloaded bool
	skipped  bool
	err      error
}

// passState tracks one import round across its topological groups.
type passState struct {
	// pathIDs maps each imported source path to every artifact id it
	// staged, primary and children.
	pathIDs map[asset.SourcePath][]asset.ID

	// poisoned holds ids whose source path already failed this
	// round. Later groups skip them instead of committing half a
	// family. Written only between groups.
	poisoned map[asset.ID]bool
}

func newPassState(staged []*asset.Artifact) *passState {
	state := &passState{
		pathIDs:  make(map[asset.SourcePath][]asset.ID),
		poisoned: make(map[asset.ID]bool),
	}
	for _, artifact := range staged {
		state.pathIDs[artifact.Meta.Path] = append(state.pathIDs[artifact.Meta.Path], artifact.Meta.ID)
	}
	return state
}

// processGroup runs one topological group in parallel, commits the
// survivors, and returns the children orphaned by recommits. A
// failure evicts every artifact of the failing source path and
// poisons the rest of its family.
func (p *Pipeline) processGroup(ctx context.Context, group []*asset.Artifact, state *passState, report *Report) []asset.ID {
	outcomes := make([]outcome, len(group))

	var wg sync.WaitGroup
	for i, artifact := range group {
		if state.poisoned[artifact.Meta.ID] {
			outcomes[i] = outcome{skipped: true}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = p.processOne(ctx, artifact)
		}()
	}
	wg.Wait()

	var stale []asset.ID
	for i, artifact := range group {
		if outcomes[i].skipped {
			continue
		}
		if outcomes[i].err != nil {
			report.Errors = append(report.Errors, outcomes[i].err)
			path := artifact.Meta.Path
			for _, id := range state.pathIDs[path] {
				state.poisoned[id] = true
				p.evict(id, report)
			}
			p.library.Remove(path)
			continue
		}
		stale = append(stale, outcomes[i].stale...)
		if outcomes[i].reloaded {
			report.Reloaded = append(report.Reloaded, artifact.Meta.ID)
		} else {
			report.Imported = append(report.Imported, artifact.Meta.ID)
		}
	}
	return stale
}

// processOne deserializes a staged artifact, runs its processor if
// the type has one, records dependency checksums, and commits the
// artifact to its final location.
func (p *Pipeline) processOne(ctx context.Context, artifact *asset.Artifact) outcome {
	id := artifact.Meta.ID
	meta, ok := p.registry.Meta(id.Type())
	if !ok {
		return outcome{err: &asset.UnRegisteredError{Type: id.Type(), Path: artifact.Meta.Path}}
	}
	// Declared dependencies are consumed by the process step. A type
	// without one can never read them, so the declaration is a
	// registration bug, not data to silently carry.
	if meta.Processor == nil && len(artifact.Meta.Dependencies) > 0 {
		return outcome{err: &asset.NoProcessorError{ID: id, Type: id.Type()}}
	}

	if meta.Processor != nil {
		value, err := meta.Deserialize(artifact.Payload)
		if err != nil {
			return outcome{err: &asset.ProcessError{ID: id, Path: artifact.Meta.Path, Err: err}}
		}
		value, err = meta.Processor(ctx, &registry.ProcessRequest{
			ID:           id,
			Path:         artifact.Meta.Path,
			Value:        value,
			Dependencies: dependencyReader{pipeline: p},
		})
		if err != nil {
			return outcome{err: &asset.ProcessError{ID: id, Path: artifact.Meta.Path, Err: err}}
		}
		if value != nil {
			payload, err := meta.Serialize(value)
			if err != nil {
				return outcome{err: &asset.ProcessError{ID: id, Path: artifact.Meta.Path, Err: err}}
			}
			artifact.Payload = payload
		}
	}

	// Dependency checksums are recorded at process time. When a
	// dependency has no library record yet, processed stays unset and
	// the refresh scan routes this artifact through another pass.
	processed := &asset.ProcessedInfo{}
	for _, dep := range artifact.Meta.Dependencies {
		current, ok := p.library.GetByID(dep)
		if !ok {
			processed = nil
			break
		}
		processed.Dependencies = append(processed.Dependencies, asset.DependencyRecord{
			ID:       dep,
			Checksum: current.Checksum,
		})
	}
	artifact.Meta.Processed = processed

	// A recommit orphans the children the previous import produced
	// but this one did not.
	var result outcome
	previous, err := p.store.LoadArtifactMeta(id)
	switch {
	case err == nil:
		result.reloaded = true
		current := make(map[asset.ID]bool, len(artifact.Meta.Children))
		for _, child := range artifact.Meta.Children {
			current[child] = true
		}
		for _, child := range previous.Children {
			if !current[child] {
				result.stale = append(result.stale, child)
			}
		}
	case !vfs.IsNotExist(err):
		return outcome{err: &asset.ProcessError{ID: id, Path: artifact.Meta.Path, Err: err}}
	}

	if err := p.store.SaveArtifact(p.store.ArtifactPath(id), artifact); err != nil {
		return outcome{err: &asset.ProcessError{ID: id, Path: artifact.Meta.Path, Err: err}}
	}
	return result
}

// dependencyReader gives processors read access to the committed
// values of their declared dependencies.
type dependencyReader struct {
	pipeline *Pipeline
}

func (r dependencyReader) Load(ctx context.Context, id asset.ID) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	store := r.pipeline.store
	artifact, err := store.LoadArtifact(store.ArtifactPath(id))
	if err != nil {
		return nil, fmt.Errorf("loading dependency %v: %w", id, err)
	}
	meta, ok := r.pipeline.registry.Meta(id.Type())
	if !ok {
		return nil, &asset.UnRegisteredError{Type: id.Type(), Path: artifact.Meta.Path}
	}
	return meta.Deserialize(artifact.Payload)
}
