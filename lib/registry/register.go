// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"strings"

	"github.com/kilnworks/kiln/lib/asset"
	"github.com/kilnworks/kiln/lib/codec"
)

// RegisterAssetType registers the asset type A under the given name
// and returns its discriminator. The serialization thunks are the
// deterministic CBOR round trip over A; settings default to the
// zero value of struct{} until an importer installs a settings type.
//
// Registration is idempotent: registering the same name again
// returns the existing discriminator.
func RegisterAssetType[A any](r *Registry, name string) (asset.Type, error) {
	meta, err := r.register(name, &AssetMeta{
		Serialize:   serializeThunk[A](name),
		Deserialize: deserializeThunk[A](name),
		DefaultSettings: func() any {
			return struct{}{}
		},
		DecodeSettings: decodeSettingsThunk[struct{}](),
	})
	if err != nil {
		return 0, err
	}
	return meta.Type, nil
}

// RegisterImporter binds one or more file extensions to an importer
// callback for asset type A with settings type S, implicitly
// registering the asset type. Extensions are matched without the dot
// and case-insensitively. Binding an extension already bound to a
// different type is an error.
func RegisterImporter[A any, S any](r *Registry, name string, extensions []string, callback ImportCallback) (asset.Type, error) {
	meta, err := r.register(name, &AssetMeta{
		Serialize:   serializeThunk[A](name),
		Deserialize: deserializeThunk[A](name),
	})
	if err != nil {
		return 0, err
	}

	// The importer's settings type wins over the placeholder from a
	// bare RegisterAssetType call.
	meta.DefaultSettings = func() any {
		var settings S
		return settings
	}
	meta.DecodeSettings = decodeSettingsThunk[S]()

	importerIndex := len(meta.Importers)
	meta.Importers = append(meta.Importers, callback)

	for _, extension := range extensions {
		if err := r.bindExtension(strings.ToLower(extension), ExtensionBinding{Type: meta.Type, Importer: importerIndex}); err != nil {
			return 0, err
		}
	}
	return meta.Type, nil
}

// RegisterProcessor installs the processor for asset type A,
// implicitly registering the type. At most one processor per type:
// installing a second is an error, reinstalling is rejected the same
// way to keep startup deterministic.
func RegisterProcessor[A any](r *Registry, name string, callback ProcessCallback) error {
	meta, err := r.register(name, &AssetMeta{
		Serialize:   serializeThunk[A](name),
		Deserialize: deserializeThunk[A](name),
		DefaultSettings: func() any {
			return struct{}{}
		},
		DecodeSettings: decodeSettingsThunk[struct{}](),
	})
	if err != nil {
		return err
	}
	if meta.Processor != nil {
		return fmt.Errorf("asset type %q already has a processor", name)
	}
	meta.Processor = callback
	return nil
}

func serializeThunk[A any](name string) func(any) ([]byte, error) {
	return func(value any) ([]byte, error) {
		typed, ok := value.(A)
		if !ok {
			return nil, fmt.Errorf("serializing %q asset: value is %T", name, value)
		}
		return codec.Marshal(typed)
	}
}

func deserializeThunk[A any](name string) func([]byte) (any, error) {
	return func(payload []byte) (any, error) {
		var typed A
		if err := codec.Unmarshal(payload, &typed); err != nil {
			return nil, fmt.Errorf("deserializing %q asset: %w", name, err)
		}
		return typed, nil
	}
}

func decodeSettingsThunk[S any]() func(func(target any) error) (any, error) {
	return func(decode func(target any) error) (any, error) {
		var settings S
		if err := decode(&settings); err != nil {
			return nil, err
		}
		return settings, nil
	}
}
