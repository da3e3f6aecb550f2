// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kilnworks/kiln/lib/asset"
	"github.com/kilnworks/kiln/lib/cache"
	"github.com/kilnworks/kiln/lib/codec"
	"github.com/kilnworks/kiln/lib/registry"
	"github.com/kilnworks/kiln/lib/scanner"
	"github.com/kilnworks/kiln/lib/sidecar"
	"github.com/kilnworks/kiln/lib/vfs"
)

type textureAsset struct {
	Pixels string `json:"pixels"`
}

type materialAsset struct {
	Texture string `json:"texture"`
	Shaded  bool   `json:"shaded"`
}

type fixture struct {
	cacheFS  *vfs.Mem
	source   *vfs.Mem
	store    *cache.Store
	registry *registry.Registry
	pipeline *Pipeline

	textureImports  atomic.Int32
	materialImports atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		cacheFS:  vfs.NewMem(),
		source:   vfs.NewMem(),
		registry: registry.New(),
	}

	store, err := cache.New(f.cacheFS, cache.Options{Mode: sidecar.Binary})
	if err != nil {
		t.Fatal(err)
	}
	f.store = store

	_, err = registry.RegisterImporter[textureAsset, struct{}](f.registry, "texture", []string{"tex"},
		func(ctx context.Context, request *registry.ImportRequest) (*registry.ImportResult, error) {
			f.textureImports.Add(1)
			return &registry.ImportResult{Value: textureAsset{Pixels: string(request.Data)}}, nil
		})
	if err != nil {
		t.Fatal(err)
	}

	// A material source holds the id of the texture it shades, or
	// nothing.
	_, err = registry.RegisterImporter[materialAsset, struct{}](f.registry, "material", []string{"mat"},
		func(ctx context.Context, request *registry.ImportRequest) (*registry.ImportResult, error) {
			f.materialImports.Add(1)
			ref := strings.TrimSpace(string(request.Data))
			result := &registry.ImportResult{Value: materialAsset{Texture: ref}}
			if ref != "" {
				id, err := asset.ParseID(ref)
				if err != nil {
					return nil, err
				}
				result.Dependencies = []asset.ID{id}
			}
			return result, nil
		})
	if err != nil {
		t.Fatal(err)
	}

	err = registry.RegisterProcessor[materialAsset](f.registry, "material",
		func(ctx context.Context, request *registry.ProcessRequest) (any, error) {
			material := request.Value.(materialAsset)
			if material.Texture != "" {
				id, err := asset.ParseID(material.Texture)
				if err != nil {
					return nil, err
				}
				if _, err := request.Dependencies.Load(ctx, id); err != nil {
					return nil, err
				}
			}
			material.Shaded = true
			return material, nil
		})
	if err != nil {
		t.Fatal(err)
	}

	f.pipeline, err = New(store, f.registry, Options{})
	if err != nil {
		t.Fatal(err)
	}
	f.pipeline.AddSource("fs", f.source)
	return f
}

func (f *fixture) write(t *testing.T, path, data string) {
	t.Helper()
	if err := vfs.WriteFile(f.source, path, []byte(data)); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) reconcile(t *testing.T) *Report {
	t.Helper()
	report, err := f.pipeline.Reconcile(context.Background(), "fs", "", scanner.Full)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	for _, reconcileErr := range report.Errors {
		t.Errorf("reconcile error: %v", reconcileErr)
	}
	return report
}

func (f *fixture) id(t *testing.T, path string) asset.ID {
	t.Helper()
	id, ok := f.pipeline.Library().GetID(asset.NewSourcePath("fs", path))
	if !ok {
		t.Fatalf("library has no id for %s", path)
	}
	return id
}

func containsID(ids []asset.ID, id asset.ID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// First import of a fresh source file.
func TestFirstImport(t *testing.T) {
	f := newFixture(t)
	f.write(t, "test.tex", "Hello")

	report := f.reconcile(t)

	id := f.id(t, "test.tex")
	if len(report.Imported) != 1 || report.Imported[0] != id {
		t.Errorf("imported = %v, want [%v]", report.Imported, id)
	}
	if len(report.Removed) != 0 || len(report.Reloaded) != 0 {
		t.Errorf("removed = %v, reloaded = %v, want empty", report.Removed, report.Reloaded)
	}

	// The sidecar carries the allocated id.
	data, err := vfs.ReadFile(f.source, "test.tex.meta")
	if err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	meta, _ := f.registry.Meta(id.Type())
	sidecarID, _, err := f.store.SidecarCodec().DecodeSettings(data, meta.DecodeSettings)
	if err != nil {
		t.Fatal(err)
	}
	if sidecarID != id {
		t.Errorf("sidecar id = %v, want %v", sidecarID, id)
	}

	// The committed artifact records path, checksum over source and
	// default settings, and no dependencies.
	artifact, err := f.store.LoadArtifact(f.store.ArtifactPath(id))
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if artifact.Meta.Path != asset.NewSourcePath("fs", "test.tex") {
		t.Errorf("artifact path = %v", artifact.Meta.Path)
	}
	settingsBytes, err := codec.Marshal(struct{}{})
	if err != nil {
		t.Fatal(err)
	}
	if want := asset.Checksum([]byte("Hello"), settingsBytes); artifact.Meta.Checksum != want {
		t.Errorf("checksum = %d, want %d", artifact.Meta.Checksum, want)
	}
	if len(artifact.Meta.Dependencies) != 0 {
		t.Errorf("dependencies = %v", artifact.Meta.Dependencies)
	}
}

// An unchanged re-run imports nothing and rewrites nothing.
func TestUnchangedRerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.write(t, "test.tex", "Hello")
	f.reconcile(t)

	id := f.id(t, "test.tex")
	before, err := vfs.ReadFile(f.cacheFS, f.store.ArtifactPath(id))
	if err != nil {
		t.Fatal(err)
	}
	imports := f.textureImports.Load()

	f.reconcile(t)

	if got := f.textureImports.Load(); got != imports {
		t.Errorf("second run performed %d imports", got-imports)
	}
	after, err := vfs.ReadFile(f.cacheFS, f.store.ArtifactPath(id))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("artifact bytes changed on an unchanged re-run")
	}
	if f.pipeline.Library().Len() != 1 {
		t.Errorf("library has %d entries", f.pipeline.Library().Len())
	}
}

// Overwritten source bytes keep the id, replace the checksum.
func TestModifiedSource(t *testing.T) {
	f := newFixture(t)
	f.write(t, "test.tex", "Hello")
	f.reconcile(t)
	id := f.id(t, "test.tex")
	before, _ := f.pipeline.Library().GetByID(id)

	f.write(t, "test.tex", "World")
	report := f.reconcile(t)

	if !containsID(report.Reloaded, id) {
		t.Errorf("reloaded = %v, want %v", report.Reloaded, id)
	}
	if got := f.id(t, "test.tex"); got != id {
		t.Errorf("id changed: %v -> %v", id, got)
	}
	after, _ := f.pipeline.Library().GetByID(id)
	if after.Checksum == before.Checksum {
		t.Error("checksum unchanged after overwrite")
	}
	// A rebuild must never be reported as an eviction.
	if len(report.Removed) != 0 {
		t.Errorf("removed = %v, want none", report.Removed)
	}
	if exists, _ := f.store.HasArtifact(id); !exists {
		t.Error("artifact missing after rebuild")
	}
}

// Deleting source and sidecar evicts the artifact and library entry.
func TestRemovedSource(t *testing.T) {
	f := newFixture(t)
	f.write(t, "test.tex", "Hello")
	f.reconcile(t)
	id := f.id(t, "test.tex")

	if err := f.source.Remove("test.tex"); err != nil {
		t.Fatal(err)
	}
	if err := f.source.Remove("test.tex.meta"); err != nil {
		t.Fatal(err)
	}
	report := f.reconcile(t)

	if !containsID(report.Removed, id) {
		t.Errorf("removed = %v, want %v", report.Removed, id)
	}
	if exists, _ := f.store.HasArtifact(id); exists {
		t.Error("artifact survived removal")
	}
	if f.pipeline.Library().Contains(asset.NewSourcePath("fs", "test.tex")) {
		t.Error("library entry survived removal")
	}
}

// A modified dependency reprocesses its dependents in the same
// reconcile via the refresh pass.
func TestDependencyReprocess(t *testing.T) {
	f := newFixture(t)
	f.write(t, "stone.tex", "gray")
	f.reconcile(t)
	textureID := f.id(t, "stone.tex")

	f.write(t, "wall.mat", textureID.String())
	f.reconcile(t)
	materialID := f.id(t, "wall.mat")

	// The processor ran and replaced the payload.
	artifact, err := f.store.LoadArtifact(f.store.ArtifactPath(materialID))
	if err != nil {
		t.Fatal(err)
	}
	meta, _ := f.registry.Meta(materialID.Type())
	value, err := meta.Deserialize(artifact.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if !value.(materialAsset).Shaded {
		t.Error("processor did not run on the material")
	}

	f.write(t, "stone.tex", "mossy")
	report := f.reconcile(t)

	rebuilt := append(append([]asset.ID{}, report.Imported...), report.Reloaded...)
	if !containsID(rebuilt, textureID) || !containsID(rebuilt, materialID) {
		t.Errorf("rebuilt = %v, want texture %v and material %v", rebuilt, textureID, materialID)
	}

	// The material's recorded dependency checksum caught up with the
	// texture's new library record.
	materialMeta, err := f.store.LoadArtifactMeta(materialID)
	if err != nil {
		t.Fatal(err)
	}
	if materialMeta.Processed == nil {
		t.Fatal("material has no processed info")
	}
	record, ok := materialMeta.Processed.Record(textureID)
	if !ok {
		t.Fatal("material records no texture dependency")
	}
	current, _ := f.pipeline.Library().GetByID(textureID)
	if record.Checksum != current.Checksum {
		t.Errorf("recorded checksum %d, library has %d", record.Checksum, current.Checksum)
	}
}

// A dependency cycle fails the pass without corrupting the cache.
func TestCyclicDependency(t *testing.T) {
	f := newFixture(t)
	matType, _ := f.registry.TypeByName("material")
	idA := asset.NewID(matType)
	idB := asset.NewID(matType)

	writeSidecar := func(path string, id asset.ID) {
		encoded, err := f.store.SidecarCodec().EncodeSettings(id, struct{}{})
		if err != nil {
			t.Fatal(err)
		}
		if err := vfs.WriteFile(f.source, path, encoded); err != nil {
			t.Fatal(err)
		}
	}
	writeSidecar("a.mat.meta", idA)
	writeSidecar("b.mat.meta", idB)
	f.write(t, "a.mat", idB.String())
	f.write(t, "b.mat", idA.String())

	_, err := f.pipeline.Reconcile(context.Background(), "fs", "", scanner.Full)
	var cycleErr *asset.CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Reconcile err = %v, want CyclicDependencyError", err)
	}
	if len(cycleErr.IDs) != 2 || !containsID(cycleErr.IDs, idA) || !containsID(cycleErr.IDs, idB) {
		t.Errorf("cycle ids = %v, want {%v, %v}", cycleErr.IDs, idA, idB)
	}

	// Nothing committed, staging cleared, library still loadable.
	for _, id := range []asset.ID{idA, idB} {
		if exists, _ := f.store.HasArtifact(id); exists {
			t.Errorf("partial artifact committed for %v", id)
		}
		if _, err := f.store.LoadArtifact(f.store.TempArtifactPath(id)); err == nil {
			t.Errorf("staged artifact for %v survived the pass", id)
		}
	}
	if _, err := f.store.LoadLibrary(); err != nil {
		t.Errorf("library not saved cleanly: %v", err)
	}
	// Uncommitted ids must not linger in the saved library.
	for _, path := range []string{"a.mat", "b.mat"} {
		if _, ok := f.pipeline.Library().Get(asset.NewSourcePath("fs", path)); ok {
			t.Errorf("library kept an entry for %s with no artifact", path)
		}
	}

	// Breaking the cycle recovers both assets with their sidecar ids.
	f.write(t, "a.mat", "")
	report := f.reconcile(t)
	if len(report.Imported) != 2 {
		t.Fatalf("imported = %v after breaking the cycle, want both materials", report.Imported)
	}
	if got := f.id(t, "a.mat"); got != idA {
		t.Errorf("a.mat id = %v, want %v", got, idA)
	}
	if got := f.id(t, "b.mat"); got != idB {
		t.Errorf("b.mat id = %v, want %v", got, idB)
	}
}

type paletteAsset struct {
	Base string `json:"base"`
}

// Declared dependencies require a process step to consume them.
func TestDependencyWithoutProcessorIsError(t *testing.T) {
	f := newFixture(t)
	_, err := registry.RegisterImporter[paletteAsset, struct{}](f.registry, "palette", []string{"pal"},
		func(ctx context.Context, request *registry.ImportRequest) (*registry.ImportResult, error) {
			ref := strings.TrimSpace(string(request.Data))
			id, err := asset.ParseID(ref)
			if err != nil {
				return nil, err
			}
			return &registry.ImportResult{
				Value:        paletteAsset{Base: ref},
				Dependencies: []asset.ID{id},
			}, nil
		})
	if err != nil {
		t.Fatal(err)
	}

	f.write(t, "base.tex", "Hello")
	f.reconcile(t)
	f.write(t, "tint.pal", f.id(t, "base.tex").String())

	report, err := f.pipeline.Reconcile(context.Background(), "fs", "", scanner.Full)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	var noProcessor *asset.NoProcessorError
	found := false
	for _, reportErr := range report.Errors {
		if errors.As(reportErr, &noProcessor) {
			found = true
		}
	}
	if !found {
		t.Fatalf("errors = %v, want NoProcessorError", report.Errors)
	}
	if _, ok := f.pipeline.Library().Get(asset.NewSourcePath("fs", "tint.pal")); ok {
		t.Error("library kept the entry for the failed palette")
	}
}

// After a failed import, the path's previous artifact is evicted.
func TestFailedReimportEvictsPreviousArtifact(t *testing.T) {
	f := newFixture(t)
	f.write(t, "wall.mat", "")
	f.reconcile(t)
	id := f.id(t, "wall.mat")

	// A material referencing a malformed id fails its importer.
	f.write(t, "wall.mat", "not-an-id")
	report, err := f.pipeline.Reconcile(context.Background(), "fs", "", scanner.Full)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(report.Errors) == 0 {
		t.Fatal("no error reported for the broken material")
	}
	if exists, _ := f.store.HasArtifact(id); exists {
		t.Error("stale artifact survived a failed reimport")
	}
	if f.pipeline.Library().Contains(asset.NewSourcePath("fs", "wall.mat")) {
		t.Error("library entry survived a failed reimport")
	}
}

// Every id referenced by a committed artifact resolves to an
// artifact file or is absent from the library.
func TestNoOrphansAfterPass(t *testing.T) {
	f := newFixture(t)
	f.write(t, "stone.tex", "gray")
	f.reconcile(t)
	f.write(t, "wall.mat", f.id(t, "stone.tex").String())
	f.reconcile(t)
	f.write(t, "stone.tex", "mossy")
	f.reconcile(t)

	entries, err := f.cacheFS.ReadDir("artifacts")
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		artifact, err := f.store.LoadArtifact("artifacts/" + entry.Name)
		if err != nil {
			t.Fatal(err)
		}
		refs := append(append([]asset.ID{}, artifact.Meta.Children...), artifact.Meta.Dependencies...)
		for _, ref := range refs {
			exists, err := f.store.HasArtifact(ref)
			if err != nil {
				t.Fatal(err)
			}
			if exists {
				continue
			}
			if _, inLibrary := f.pipeline.Library().GetByID(ref); inLibrary {
				t.Errorf("artifact %v references %v: no artifact file, still in library", artifact.Meta.ID, ref)
			}
		}
	}
}

func TestReconcileUnknownSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Reconcile(context.Background(), "nosuch", "", scanner.Full)
	var sourceErr *asset.InvalidSourceError
	if !errors.As(err, &sourceErr) {
		t.Errorf("err = %v, want InvalidSourceError", err)
	}
}

func TestReconcileCancelled(t *testing.T) {
	f := newFixture(t)
	f.write(t, "test.tex", "Hello")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.pipeline.Reconcile(ctx, "fs", "", scanner.Full)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	// The cache recovers: a fresh reconcile finishes the work.
	if _, err := f.store.Init(); err != nil {
		t.Fatal(err)
	}
	report := f.reconcile(t)
	if len(report.Imported) != 1 {
		t.Errorf("imported = %v after recovery", report.Imported)
	}
}

// Serialize then deserialize is the identity for registered types.
func TestSerializeRoundTrip(t *testing.T) {
	f := newFixture(t)
	matType, _ := f.registry.TypeByName("material")
	meta, _ := f.registry.Meta(matType)

	original := materialAsset{Texture: "t", Shaded: true}
	payload, err := meta.Serialize(original)
	if err != nil {
		t.Fatal(err)
	}
	value, err := meta.Deserialize(payload)
	if err != nil {
		t.Fatal(err)
	}
	if value.(materialAsset) != original {
		t.Errorf("round trip = %+v, want %+v", value, original)
	}
	again, err := meta.Serialize(value)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(payload, again) {
		t.Error("re-serialization changed the payload bytes")
	}
}
