// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/kilnworks/kiln/lib/asset"
	"github.com/kilnworks/kiln/lib/codec"
	"github.com/kilnworks/kiln/lib/library"
	"github.com/kilnworks/kiln/lib/sidecar"
	"github.com/kilnworks/kiln/lib/vfs"
)

// Cache directory layout within the root.
const (
	artifactsDir = "artifacts"
	tempDir      = "temp"
	libraryFile  = "assets.lib"
	lockFile     = "cache.lock"
)

// DefaultMetaCacheSize is the default capacity of the in-memory
// artifact metadata LRU. Dependency-modified scans re-read metadata
// heavily; the LRU keeps those reads off disk.
const DefaultMetaCacheSize = 1024

// Options configures a Store.
type Options struct {
	// Mode selects the library and sidecar encoding, fixed for the
	// lifetime of the cache instance.
	Mode sidecar.Mode

	// MetaCacheSize overrides DefaultMetaCacheSize when positive.
	MetaCacheSize int
}

// Store owns the artifact cache directory: artifact binary I/O,
// meta-only reads, the temp staging area, and library persistence.
//
// Per-id artifact files are only ever touched by one task at a time
// (the pipeline partitions ids across its process groups), so the
// store does not serialize artifact I/O; the metadata LRU is
// internally synchronized.
type Store struct {
	backend   vfs.Backend
	mode      sidecar.Mode
	metaCache *lru.Cache[asset.ID, *asset.ArtifactMeta]

	// lock is held for on-disk stores so two pipeline instances
	// cannot share one cache root. Nil for pure in-memory stores.
	lock *flock.Flock
}

// New creates a Store over an arbitrary backend. Used directly in
// tests (with a vfs.Mem); production callers use [Open].
func New(backend vfs.Backend, options Options) (*Store, error) {
	size := options.MetaCacheSize
	if size <= 0 {
		size = DefaultMetaCacheSize
	}
	metaCache, err := lru.New[asset.ID, *asset.ArtifactMeta](size)
	if err != nil {
		return nil, fmt.Errorf("creating artifact meta cache: %w", err)
	}
	return &Store{backend: backend, mode: options.Mode, metaCache: metaCache}, nil
}

// Open creates a Store over a local cache directory, taking an
// advisory lock on the root. Opening a root that another live
// pipeline holds is an error.
func Open(root string, options Options) (*Store, error) {
	backend, err := vfs.NewDir(root)
	if err != nil {
		return nil, err
	}
	store, err := New(backend, options)
	if err != nil {
		return nil, err
	}

	store.lock = flock.New(filepath.Join(backend.Root(), lockFile))
	locked, err := store.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking cache root %s: %w", root, err)
	}
	if !locked {
		return nil, fmt.Errorf("cache root %s is locked by another pipeline", root)
	}
	return store, nil
}

// Close releases the cache root lock, if any.
func (s *Store) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

// Init ensures the cache layout exists and returns the persisted
// library. A stale temp directory from a cancelled pass is cleared,
// and a missing library file yields an empty library. Filesystem
// errors are returned unmasked: a pipeline with a broken cache root
// cannot proceed.
func (s *Store) Init() (*library.Library, error) {
	if err := s.backend.CreateDirAll(artifactsDir); err != nil {
		return nil, err
	}
	if exists, err := s.backend.Exists(tempDir); err != nil {
		return nil, err
	} else if exists {
		if err := s.backend.RemoveDir(tempDir); err != nil {
			return nil, err
		}
	}
	if err := s.backend.CreateDirAll(tempDir); err != nil {
		return nil, err
	}
	return s.LoadLibrary()
}

// EnsureTemp recreates the temp staging directory. Reconcile passes
// remove it on exit, so every pass must call this before staging.
func (s *Store) EnsureTemp() error {
	return s.backend.CreateDirAll(tempDir)
}

// RemoveTemp deletes the temp staging directory at pass end.
func (s *Store) RemoveTemp() error {
	exists, err := s.backend.Exists(tempDir)
	if err != nil || !exists {
		return err
	}
	return s.backend.RemoveDir(tempDir)
}

// ArtifactPath returns the permanent cache path for an id.
func (s *Store) ArtifactPath(id asset.ID) string {
	return artifactsDir + "/" + id.String()
}

// TempArtifactPath returns the staging path for an id.
func (s *Store) TempArtifactPath(id asset.ID) string {
	return tempDir + "/" + id.String()
}

// SaveArtifact writes a full artifact file at path (permanent or
// staging). The write commits atomically via the backend's writer
// contract.
func (s *Store) SaveArtifact(path string, artifact *asset.Artifact) error {
	data, err := encodeArtifact(artifact)
	if err != nil {
		return err
	}
	if err := vfs.WriteFile(s.backend, path, data); err != nil {
		return err
	}
	s.metaCache.Remove(artifact.Meta.ID)
	return nil
}

// LoadArtifact reads a full artifact file from path.
func (s *Store) LoadArtifact(path string) (*asset.Artifact, error) {
	data, err := vfs.ReadFile(s.backend, path)
	if err != nil {
		return nil, err
	}
	artifact, err := decodeArtifact(data)
	if err != nil {
		return nil, fmt.Errorf("loading artifact %s: %w", path, err)
	}
	return artifact, nil
}

// LoadArtifactMeta reads only the header and metadata of the
// permanent artifact for id, stopping before the payload. Results
// are cached in the metadata LRU until the artifact is rewritten or
// removed.
func (s *Store) LoadArtifactMeta(id asset.ID) (*asset.ArtifactMeta, error) {
	if meta, ok := s.metaCache.Get(id); ok {
		return meta, nil
	}

	reader, err := s.backend.Reader(s.ArtifactPath(id))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	meta, err := readMeta(reader)
	if err != nil {
		return nil, fmt.Errorf("loading artifact meta %s: %w", id, err)
	}
	s.metaCache.Add(id, meta)
	return meta, nil
}

// HasArtifact reports whether a permanent artifact file exists for
// id.
func (s *Store) HasArtifact(id asset.ID) (bool, error) {
	return s.backend.Exists(s.ArtifactPath(id))
}

// RemoveArtifact deletes the artifact file at path. The metadata LRU
// entry is dropped (the file name is the id).
func (s *Store) RemoveArtifact(path string) error {
	if name := path[strings.LastIndexByte(path, '/')+1:]; name != "" {
		if id, err := asset.ParseID(name); err == nil {
			s.metaCache.Remove(id)
		}
	}
	return s.backend.Remove(path)
}

// libraryText is the TOML shape of the library file.
type libraryText struct {
	Entries []library.Entry `toml:"entries"`
}

// libraryBinary is the CBOR shape of the library file.
type libraryBinary struct {
	Entries []library.Entry `json:"entries"`
}

// LoadLibrary reads the persisted library, returning an empty
// library if the file does not exist. This is the only store
// operation that maps absence to a default; every other operation
// surfaces I/O errors unmasked.
func (s *Store) LoadLibrary() (*library.Library, error) {
	data, err := vfs.ReadFile(s.backend, libraryFile)
	if err != nil {
		if vfs.IsNotExist(err) {
			return library.New(), nil
		}
		return nil, err
	}

	var entries []library.Entry
	switch s.mode {
	case sidecar.Text:
		var file libraryText
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("decoding library file: %w", err)
		}
		entries = file.Entries
	case sidecar.Binary:
		var file libraryBinary
		if err := codec.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("decoding library file: %w", err)
		}
		entries = file.Entries
	default:
		return nil, fmt.Errorf("unknown library mode %d", s.mode)
	}

	lib := library.New()
	lib.Replace(entries)
	return lib, nil
}

// SaveLibrary persists the library atomically. The library is
// snapshotted under its read lock before any I/O happens.
func (s *Store) SaveLibrary(lib *library.Library) error {
	entries := lib.Snapshot()

	var data []byte
	var err error
	switch s.mode {
	case sidecar.Text:
		data, err = toml.Marshal(libraryText{Entries: entries})
	case sidecar.Binary:
		data, err = codec.Marshal(libraryBinary{Entries: entries})
	default:
		return fmt.Errorf("unknown library mode %d", s.mode)
	}
	if err != nil {
		return fmt.Errorf("encoding library file: %w", err)
	}
	return vfs.WriteFile(s.backend, libraryFile, data)
}

// SidecarCodec returns the sidecar codec matching the store's
// encoding mode.
func (s *Store) SidecarCodec() sidecar.Codec {
	return sidecar.NewCodec(s.mode)
}
