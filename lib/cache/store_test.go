// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"bytes"
	"testing"

	"github.com/kilnworks/kiln/lib/asset"
	"github.com/kilnworks/kiln/lib/library"
	"github.com/kilnworks/kiln/lib/sidecar"
	"github.com/kilnworks/kiln/lib/vfs"
)

var textureType = asset.TypeOf("texture")

func newTestStore(t *testing.T, mode sidecar.Mode) *Store {
	t.Helper()
	store, err := New(vfs.NewMem(), Options{Mode: mode})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := store.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return store
}

func testArtifact(id asset.ID) *asset.Artifact {
	return &asset.Artifact{
		Meta: asset.ArtifactMeta{
			ID:       id,
			Checksum: 123456,
			Path:     asset.NewSourcePath("fs", "a.png"),
		},
		Payload: []byte("payload bytes"),
	}
}

func TestInitCreatesLayout(t *testing.T) {
	backend := vfs.NewMem()
	store, err := New(backend, Options{})
	if err != nil {
		t.Fatal(err)
	}

	lib, err := store.Init()
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if lib.Len() != 0 {
		t.Errorf("fresh library has %d entries", lib.Len())
	}
	for _, dir := range []string{artifactsDir, tempDir} {
		if isDir, _ := backend.IsDir(dir); !isDir {
			t.Errorf("%s/ missing after Init", dir)
		}
	}
}

func TestInitClearsStaleTemp(t *testing.T) {
	backend := vfs.NewMem()
	store, err := New(backend, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Init(); err != nil {
		t.Fatal(err)
	}

	// Simulate a cancelled pass leaving a staged artifact behind.
	id := asset.NewID(textureType)
	if err := store.SaveArtifact(store.TempArtifactPath(id), testArtifact(id)); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Init(); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	if exists, _ := backend.Exists(store.TempArtifactPath(id)); exists {
		t.Error("stale temp artifact survived Init")
	}
}

func TestEnsureTempRecreatesAfterRemove(t *testing.T) {
	backend := vfs.NewMem()
	store, err := New(backend, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Init(); err != nil {
		t.Fatal(err)
	}

	// A pass removes temp/ on exit; the next pass must be able to
	// stage again.
	if err := store.RemoveTemp(); err != nil {
		t.Fatalf("RemoveTemp failed: %v", err)
	}
	if err := store.EnsureTemp(); err != nil {
		t.Fatalf("EnsureTemp failed: %v", err)
	}

	id := asset.NewID(textureType)
	if err := store.SaveArtifact(store.TempArtifactPath(id), testArtifact(id)); err != nil {
		t.Fatalf("staging after EnsureTemp failed: %v", err)
	}

	// Idempotent when the directory already exists.
	if err := store.EnsureTemp(); err != nil {
		t.Fatalf("repeated EnsureTemp failed: %v", err)
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	store := newTestStore(t, sidecar.Binary)
	id := asset.NewID(textureType)
	original := testArtifact(id)
	original.Meta.Dependencies = []asset.ID{asset.NewID(textureType)}

	path := store.ArtifactPath(id)
	if err := store.SaveArtifact(path, original); err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}

	loaded, err := store.LoadArtifact(path)
	if err != nil {
		t.Fatalf("LoadArtifact failed: %v", err)
	}
	if loaded.Meta.ID != id || loaded.Meta.Checksum != original.Meta.Checksum {
		t.Errorf("meta mismatch: %+v", loaded.Meta)
	}
	if len(loaded.Meta.Dependencies) != 1 || loaded.Meta.Dependencies[0] != original.Meta.Dependencies[0] {
		t.Errorf("dependencies mismatch: %+v", loaded.Meta.Dependencies)
	}
	if !bytes.Equal(loaded.Payload, original.Payload) {
		t.Errorf("payload mismatch: %q", loaded.Payload)
	}
}

func TestArtifactBytesDeterministic(t *testing.T) {
	store := newTestStore(t, sidecar.Binary)
	id := asset.NewID(textureType)

	path := store.ArtifactPath(id)
	if err := store.SaveArtifact(path, testArtifact(id)); err != nil {
		t.Fatal(err)
	}
	first, err := encodeArtifact(testArtifact(id))
	if err != nil {
		t.Fatal(err)
	}
	second, err := encodeArtifact(testArtifact(id))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("identical artifacts encode to different bytes")
	}
}

func TestLoadArtifactMetaStopsBeforePayload(t *testing.T) {
	store := newTestStore(t, sidecar.Binary)
	id := asset.NewID(textureType)
	original := testArtifact(id)

	if err := store.SaveArtifact(store.ArtifactPath(id), original); err != nil {
		t.Fatal(err)
	}

	meta, err := store.LoadArtifactMeta(id)
	if err != nil {
		t.Fatalf("LoadArtifactMeta failed: %v", err)
	}
	if meta.ID != id || meta.Path != original.Meta.Path {
		t.Errorf("meta = %+v", meta)
	}

	// Second load hits the LRU.
	again, err := store.LoadArtifactMeta(id)
	if err != nil {
		t.Fatal(err)
	}
	if again != meta {
		t.Error("second load did not return the cached meta")
	}
}

func TestSaveInvalidatesMetaCache(t *testing.T) {
	store := newTestStore(t, sidecar.Binary)
	id := asset.NewID(textureType)

	if err := store.SaveArtifact(store.ArtifactPath(id), testArtifact(id)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadArtifactMeta(id); err != nil {
		t.Fatal(err)
	}

	updated := testArtifact(id)
	updated.Meta.Checksum = 999
	if err := store.SaveArtifact(store.ArtifactPath(id), updated); err != nil {
		t.Fatal(err)
	}

	meta, err := store.LoadArtifactMeta(id)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Checksum != 999 {
		t.Errorf("stale meta served after rewrite: checksum = %d", meta.Checksum)
	}
}

func TestRemoveArtifact(t *testing.T) {
	store := newTestStore(t, sidecar.Binary)
	id := asset.NewID(textureType)
	path := store.ArtifactPath(id)

	if err := store.SaveArtifact(path, testArtifact(id)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadArtifactMeta(id); err != nil {
		t.Fatal(err)
	}

	if err := store.RemoveArtifact(path); err != nil {
		t.Fatalf("RemoveArtifact failed: %v", err)
	}
	if exists, _ := store.HasArtifact(id); exists {
		t.Error("artifact exists after RemoveArtifact")
	}
	if _, err := store.LoadArtifactMeta(id); err == nil {
		t.Error("meta load succeeded after removal (stale LRU entry)")
	}
}

func TestLoadArtifactMissingIsError(t *testing.T) {
	store := newTestStore(t, sidecar.Binary)

	if _, err := store.LoadArtifact(store.ArtifactPath(asset.NewID(textureType))); !vfs.IsNotExist(err) {
		t.Errorf("LoadArtifact err = %v, want not-exist", err)
	}
}

func TestLibraryPersistence(t *testing.T) {
	for _, mode := range []sidecar.Mode{sidecar.Text, sidecar.Binary} {
		t.Run(mode.String(), func(t *testing.T) {
			store := newTestStore(t, mode)

			lib := library.New()
			pathA := asset.NewSourcePath("fs", "a.png")
			pathB := asset.NewSourcePath("fs", "b.png")
			infoA := asset.Info{ID: asset.NewID(textureType), Checksum: 1}
			infoB := asset.Info{ID: asset.NewID(textureType), Checksum: 2}
			lib.Add(pathA, infoA)
			lib.Add(pathB, infoB)

			if err := store.SaveLibrary(lib); err != nil {
				t.Fatalf("SaveLibrary failed: %v", err)
			}

			loaded, err := store.LoadLibrary()
			if err != nil {
				t.Fatalf("LoadLibrary failed: %v", err)
			}
			if loaded.Len() != 2 {
				t.Fatalf("loaded library has %d entries, want 2", loaded.Len())
			}
			if got, _ := loaded.Get(pathA); got != infoA {
				t.Errorf("Get(a) = %+v, want %+v", got, infoA)
			}
			if got, _ := loaded.Get(pathB); got != infoB {
				t.Errorf("Get(b) = %+v, want %+v", got, infoB)
			}
		})
	}
}

func TestLoadLibraryAbsentIsEmpty(t *testing.T) {
	store, err := New(vfs.NewMem(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	lib, err := store.LoadLibrary()
	if err != nil {
		t.Fatalf("LoadLibrary failed: %v", err)
	}
	if lib.Len() != 0 {
		t.Errorf("library from absent file has %d entries", lib.Len())
	}
}

func TestOpenLocksRoot(t *testing.T) {
	root := t.TempDir()

	first, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer first.Close()

	if _, err := Open(root, Options{}); err == nil {
		t.Error("second Open of a locked root succeeded")
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	third, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("Open after unlock failed: %v", err)
	}
	third.Close()
}

func TestRemoveTemp(t *testing.T) {
	store := newTestStore(t, sidecar.Binary)
	if err := store.RemoveTemp(); err != nil {
		t.Fatalf("RemoveTemp failed: %v", err)
	}
	// Idempotent when already gone.
	if err := store.RemoveTemp(); err != nil {
		t.Fatalf("second RemoveTemp failed: %v", err)
	}
}
