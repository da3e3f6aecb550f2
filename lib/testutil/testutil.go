// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for kiln packages.
//
// [Seed] populates a vfs backend from a literal path-to-content map,
// so fixtures read as data instead of write loops. [TreeOf] captures
// a backend's file contents back into the same map shape for
// comparison.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no kiln dependencies beyond lib/vfs.
package testutil

import (
	"strings"

	"github.com/kilnworks/kiln/lib/vfs"
)

// Seed writes every entry of files into the backend, creating parent
// directories as needed. Keys are slash-separated relative paths.
//
//	testutil.Seed(t, source, map[string]string{
//		"a.txt":     "alpha",
//		"sub/b.txt": "beta",
//	})
func Seed(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, backend vfs.Backend, files map[string]string) {
	t.Helper()
	for path, content := range files {
		if i := strings.LastIndexByte(path, '/'); i >= 0 {
			if err := backend.CreateDirAll(path[:i]); err != nil {
				t.Fatalf("seeding %s: %v", path, err)
			}
		}
		if err := vfs.WriteFile(backend, path, []byte(content)); err != nil {
			t.Fatalf("seeding %s: %v", path, err)
		}
	}
}

// TreeOf reads every file under the backend root into a path-to-
// content map, recursing through directories.
func TreeOf(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, backend vfs.Backend) map[string]string {
	t.Helper()
	files := make(map[string]string)
	collectTree(t, backend, "", files)
	return files
}

func collectTree(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, backend vfs.Backend, dir string, files map[string]string) {
	t.Helper()
	entries, err := backend.ReadDir(dir)
	if err != nil {
		t.Fatalf("listing %q: %v", dir, err)
	}
	for _, entry := range entries {
		path := entry.Name
		if dir != "" {
			path = dir + "/" + entry.Name
		}
		if entry.IsDir {
			collectTree(t, backend, path, files)
			continue
		}
		data, err := vfs.ReadFile(backend, path)
		if err != nil {
			t.Fatalf("reading %s: %v", path, err)
		}
		files[path] = string(data)
	}
}
