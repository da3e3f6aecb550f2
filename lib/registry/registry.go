// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"fmt"

	"github.com/kilnworks/kiln/lib/asset"
)

// ImportRequest carries everything an import callback needs: the
// source location, the raw source bytes, and the decoded per-type
// settings from the sidecar.
type ImportRequest struct {
	Path     asset.SourcePath
	Data     []byte
	Settings any
}

// SubAsset is one secondary asset produced by an import alongside
// the primary. Its id is derived from the primary's id and the
// sub-asset name, so reimports reproduce the same child ids.
type SubAsset struct {
	// Name distinguishes this sub-asset within its parent. Must be
	// unique per import.
	Name string

	// Type is the sub-asset's registered type discriminator.
	Type asset.Type

	// Value is the in-memory asset value, serialized with the
	// sub-asset type's thunk.
	Value any

	// Dependencies lists asset ids the sub-asset reads at process
	// time.
	Dependencies []asset.ID
}

// ImportResult is returned by an import callback: the primary asset
// value, its dependency ids, and any sub-assets.
type ImportResult struct {
	Value        any
	Dependencies []asset.ID
	SubAssets    []SubAsset
}

// ImportCallback converts raw source bytes plus settings into an
// in-memory asset value and a dependency list.
type ImportCallback func(ctx context.Context, request *ImportRequest) (*ImportResult, error)

// DependencyReader gives a process callback read access to the
// deserialized values of its declared dependencies.
type DependencyReader interface {
	// Load returns the deserialized asset value for a dependency id.
	Load(ctx context.Context, id asset.ID) (any, error)
}

// ProcessRequest carries a processor's inputs: the asset identity
// and the imported value, plus access to dependency values.
type ProcessRequest struct {
	ID           asset.ID
	Path         asset.SourcePath
	Value        any
	Dependencies DependencyReader
}

// ProcessCallback transforms an imported asset value before it is
// committed to its final cache location. Returning a new value
// replaces the payload.
type ProcessCallback func(ctx context.Context, request *ProcessRequest) (any, error)

// AssetMeta is the registry record for one asset type: its
// importers, optional processor, and the type-erased serialization
// thunks.
type AssetMeta struct {
	Type asset.Type
	Name string

	// Importers, in registration order. The extension table binds
	// each extension to an index into this slice.
	Importers []ImportCallback

	// Processor is nil when the type has no process step.
	Processor ProcessCallback

	// Serialize and Deserialize convert between the typed in-memory
	// asset value and the artifact payload bytes.
	Serialize   func(value any) ([]byte, error)
	Deserialize func(payload []byte) (any, error)

	// DefaultSettings returns a fresh settings value for a source
	// seen without a sidecar.
	DefaultSettings func() any

	// DecodeSettings decodes sidecar settings into the type's
	// concrete settings value. The decode argument unmarshals the
	// sidecar's raw settings node into its target.
	DecodeSettings func(decode func(target any) error) (any, error)
}

// ExtensionBinding names the asset type and importer index an
// extension dispatches to.
type ExtensionBinding struct {
	Type     asset.Type
	Importer int
}

// Registry is the runtime table of asset types. It is write-once at
// startup: the host registers every type, importer, and processor
// before the first reconcile, and the pipeline only reads afterward.
// Registration is not safe for concurrent use; reads are.
type Registry struct {
	types       map[asset.Type]*AssetMeta
	byName      map[string]asset.Type
	byExtension map[string]ExtensionBinding
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		types:       make(map[asset.Type]*AssetMeta),
		byName:      make(map[string]asset.Type),
		byExtension: make(map[string]ExtensionBinding),
	}
}

// Meta returns the record for a type discriminator.
func (r *Registry) Meta(typ asset.Type) (*AssetMeta, bool) {
	meta, ok := r.types[typ]
	return meta, ok
}

// TypeByName returns the discriminator registered for a type name.
func (r *Registry) TypeByName(name string) (asset.Type, bool) {
	typ, ok := r.byName[name]
	return typ, ok
}

// Binding returns the extension table entry for a lowercased file
// extension (without dot).
func (r *Registry) Binding(extension string) (ExtensionBinding, bool) {
	binding, ok := r.byExtension[extension]
	return binding, ok
}

// Extensions returns the registered extensions in no particular
// order.
func (r *Registry) Extensions() []string {
	extensions := make([]string, 0, len(r.byExtension))
	for extension := range r.byExtension {
		extensions = append(extensions, extension)
	}
	return extensions
}

// register installs or returns the record for a type name. The
// serialization and settings thunks are only set on first
// registration; repeat registrations must agree on the name.
func (r *Registry) register(name string, meta *AssetMeta) (*AssetMeta, error) {
	typ := asset.TypeOf(name)
	if existing, ok := r.types[typ]; ok {
		if existing.Name != name {
			// Astronomically unlikely 64-bit collision, but silent
			// misdispatch would be unfindable.
			return nil, fmt.Errorf("asset type hash collision: %q and %q both map to %v", existing.Name, name, typ)
		}
		return existing, nil
	}
	meta.Type = typ
	meta.Name = name
	r.types[typ] = meta
	r.byName[name] = typ
	return meta, nil
}

// bindExtension binds an extension to (type, importer index).
// Rebinding to the same type is idempotent; rebinding to a different
// type is a startup-time error.
func (r *Registry) bindExtension(extension string, binding ExtensionBinding) error {
	if existing, ok := r.byExtension[extension]; ok {
		if existing.Type != binding.Type {
			return fmt.Errorf("extension %q is already bound to type %v", extension, existing.Type)
		}
		return nil
	}
	r.byExtension[extension] = binding
	return nil
}
