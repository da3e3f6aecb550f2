// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package asset

// Info is the per-asset library record: the asset's id and the
// CRC32 checksum of its source and settings bytes at last import.
type Info struct {
	ID       ID     `json:"id"`
	Checksum uint32 `json:"checksum"`
}

// DependencyRecord captures one dependency's checksum at the moment
// the depending artifact was processed. A later scan in
// dependencies-modified mode compares these against the library's
// current records to detect staleness.
type DependencyRecord struct {
	ID       ID     `json:"id"`
	Checksum uint32 `json:"checksum"`
}

// ProcessedInfo is present on an artifact's metadata after its
// process step completed. It records the exact checksum every
// dependency had at process time.
type ProcessedInfo struct {
	Dependencies []DependencyRecord `json:"dependencies,omitempty"`
}

// Record returns the recorded checksum for a dependency id, if any.
func (p *ProcessedInfo) Record(id ID) (DependencyRecord, bool) {
	for _, record := range p.Dependencies {
		if record.ID == id {
			return record, true
		}
	}
	return DependencyRecord{}, false
}

// ArtifactMeta is the header persisted alongside every artifact's
// serialized payload.
//
// Parent/child relations: only the parent's meta is the source of
// truth for ownership. Eviction reads the outgoing meta's Children to
// decide what to delete, never a global back-pointer table.
type ArtifactMeta struct {
	// ID is this artifact's id.
	ID ID `json:"id"`

	// Checksum is CRC32(sourceBytes ‖ settingsBytes) at import time.
	Checksum uint32 `json:"checksum"`

	// Path is the source that produced this artifact.
	Path SourcePath `json:"path"`

	// Parent is set on sub-artifacts: the primary artifact's id.
	Parent *ID `json:"parent,omitempty"`

	// Children lists sub-artifact ids this artifact owns.
	Children []ID `json:"children,omitempty"`

	// Dependencies lists ids this artifact reads at process time.
	Dependencies []ID `json:"dependencies,omitempty"`

	// Processed is nil until the artifact's process step completes.
	Processed *ProcessedInfo `json:"processed,omitempty"`
}

// Artifact pairs metadata with the opaque per-type serialization of
// the asset value.
type Artifact struct {
	Meta    ArtifactMeta
	Payload []byte
}
