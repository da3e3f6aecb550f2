// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package sidecar reads and writes the pipeline's metadata sidecars:
// the per-source settings file that carries an asset's persistent id
// along with its user-editable import settings, and the per-directory
// folder record the scanner uses to detect removed entries.
//
// Sidecars come in two encodings fixed per cache instance: a TOML
// text form for human editing and a CBOR binary form matching the
// library file. The id lives in the same file as the settings by
// design — deleting the cache must never orphan ids.
package sidecar

import (
	"fmt"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/kilnworks/kiln/lib/asset"
	"github.com/kilnworks/kiln/lib/codec"
)

// Extension is the sidecar file extension, without the dot. The
// scanner skips paths carrying it.
const Extension = "meta"

// Mode selects the sidecar and library encoding.
type Mode int

const (
	// Text encodes sidecars as TOML.
	Text Mode = iota
	// Binary encodes sidecars as deterministic CBOR.
	Binary
)

func (m Mode) String() string {
	switch m {
	case Text:
		return "text"
	case Binary:
		return "binary"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMode parses "text" or "binary".
func ParseMode(name string) (Mode, error) {
	switch name {
	case "text":
		return Text, nil
	case "binary":
		return Binary, nil
	default:
		return 0, fmt.Errorf("unknown sidecar mode %q", name)
	}
}

// PathFor returns the settings sidecar path for a source file:
// "<source file>.meta" alongside it.
func PathFor(path asset.SourcePath) asset.SourcePath {
	return asset.SourcePath{Source: path.Source, Path: path.Path + "." + Extension}
}

// FolderPathFor returns the folder record path for a directory: the
// directory's own ".meta" path. The source root uses a bare ".meta".
func FolderPathFor(dir asset.SourcePath) asset.SourcePath {
	if dir.Path == "" {
		return asset.SourcePath{Source: dir.Source, Path: "." + Extension}
	}
	return asset.SourcePath{Source: dir.Source, Path: dir.Path + "." + Extension}
}

// Codec encodes and decodes sidecars in one fixed mode.
type Codec struct {
	mode Mode
}

// NewCodec creates a sidecar codec for the given mode.
func NewCodec(mode Mode) Codec {
	return Codec{mode: mode}
}

// Mode returns the codec's encoding mode.
func (c Codec) Mode() Mode {
	return c.mode
}

// settingsText is the TOML shape of a settings sidecar.
type settingsText struct {
	ID       asset.ID `toml:"id"`
	Settings any      `toml:"settings"`
}

// settingsBinary is the CBOR shape. Settings stays raw so the
// per-type thunk decodes it into the concrete settings value.
type settingsBinary struct {
	ID       asset.ID        `json:"id"`
	Settings codec.RawMessage `json:"settings"`
}

// EncodeSettings serializes a settings sidecar.
func (c Codec) EncodeSettings(id asset.ID, settings any) ([]byte, error) {
	switch c.mode {
	case Text:
		data, err := toml.Marshal(settingsText{ID: id, Settings: settings})
		if err != nil {
			return nil, fmt.Errorf("encoding settings sidecar: %w", err)
		}
		return data, nil
	case Binary:
		raw, err := codec.Marshal(settings)
		if err != nil {
			return nil, fmt.Errorf("encoding settings sidecar: %w", err)
		}
		data, err := codec.Marshal(settingsBinary{ID: id, Settings: raw})
		if err != nil {
			return nil, fmt.Errorf("encoding settings sidecar: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown sidecar mode %d", c.mode)
	}
}

// DecodeSettings parses a settings sidecar, using decodeSettings
// (the registry's per-type thunk) to turn the raw settings node into
// the concrete settings value.
func (c Codec) DecodeSettings(data []byte, decodeSettings func(decode func(target any) error) (any, error)) (asset.ID, any, error) {
	switch c.mode {
	case Text:
		var file struct {
			ID       asset.ID       `toml:"id"`
			Settings map[string]any `toml:"settings"`
		}
		if err := toml.Unmarshal(data, &file); err != nil {
			return asset.ID{}, nil, fmt.Errorf("decoding settings sidecar: %w", err)
		}
		// TOML has no raw-node type, so the settings table takes a
		// round trip through its map form into the concrete type.
		settingsData, err := toml.Marshal(file.Settings)
		if err != nil {
			return asset.ID{}, nil, fmt.Errorf("decoding settings sidecar: %w", err)
		}
		settings, err := decodeSettings(func(target any) error {
			return toml.Unmarshal(settingsData, target)
		})
		if err != nil {
			return asset.ID{}, nil, fmt.Errorf("decoding settings sidecar: %w", err)
		}
		return file.ID, settings, nil

	case Binary:
		var file settingsBinary
		if err := codec.Unmarshal(data, &file); err != nil {
			return asset.ID{}, nil, fmt.Errorf("decoding settings sidecar: %w", err)
		}
		settings, err := decodeSettings(func(target any) error {
			if len(file.Settings) == 0 {
				return nil
			}
			return codec.Unmarshal(file.Settings, target)
		})
		if err != nil {
			return asset.ID{}, nil, fmt.Errorf("decoding settings sidecar: %w", err)
		}
		return file.ID, settings, nil

	default:
		return asset.ID{}, nil, fmt.Errorf("unknown sidecar mode %d", c.mode)
	}
}

// folderFile is the shape of a folder record: the direct child names
// the last scan observed.
type folderFile struct {
	Children []string `json:"children" toml:"children"`
}

// EncodeFolder serializes a folder record. Children are sorted so
// the record is deterministic.
func (c Codec) EncodeFolder(children []string) ([]byte, error) {
	sorted := make([]string, len(children))
	copy(sorted, children)
	sort.Strings(sorted)

	file := folderFile{Children: sorted}
	switch c.mode {
	case Text:
		data, err := toml.Marshal(file)
		if err != nil {
			return nil, fmt.Errorf("encoding folder record: %w", err)
		}
		return data, nil
	case Binary:
		data, err := codec.Marshal(file)
		if err != nil {
			return nil, fmt.Errorf("encoding folder record: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown sidecar mode %d", c.mode)
	}
}

// DecodeFolder parses a folder record.
func (c Codec) DecodeFolder(data []byte) ([]string, error) {
	var file folderFile
	switch c.mode {
	case Text:
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("decoding folder record: %w", err)
		}
	case Binary:
		if err := codec.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("decoding folder record: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown sidecar mode %d", c.mode)
	}
	return file.Children, nil
}
