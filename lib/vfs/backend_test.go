// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"errors"
	"io"
	"testing"
)

// runBackendSuite is the backend conformance suite. The in-memory
// backend defines the contract; every writable backend must pass the
// identical assertions.
func runBackendSuite(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("WriteReadRoundTrip", func(t *testing.T) {
		backend := newBackend(t)

		if err := WriteFile(backend, "hello.txt", []byte("Hello")); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		data, err := ReadFile(backend, "hello.txt")
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if string(data) != "Hello" {
			t.Errorf("ReadFile = %q, want %q", data, "Hello")
		}
	})

	t.Run("ReaderMissingFile", func(t *testing.T) {
		backend := newBackend(t)

		_, err := backend.Reader("absent.txt")
		if err == nil {
			t.Fatal("Reader on missing file succeeded")
		}
		var pathErr *PathError
		if !errors.As(err, &pathErr) {
			t.Fatalf("error type is %T, want *PathError", err)
		}
		if pathErr.Path != "absent.txt" {
			t.Errorf("PathError.Path = %q, want %q", pathErr.Path, "absent.txt")
		}
		if !IsNotExist(err) {
			t.Errorf("IsNotExist = false for %v", err)
		}
	})

	t.Run("WriterCommitsOnClose", func(t *testing.T) {
		backend := newBackend(t)

		writer, err := backend.Writer("pending.txt")
		if err != nil {
			t.Fatalf("Writer failed: %v", err)
		}
		if _, err := writer.Write([]byte("partial")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}

		// Before Close the target must not exist.
		if exists, _ := backend.Exists("pending.txt"); exists {
			t.Error("target exists before writer Close")
		}

		if err := writer.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		data, err := ReadFile(backend, "pending.txt")
		if err != nil {
			t.Fatalf("ReadFile after Close failed: %v", err)
		}
		if string(data) != "partial" {
			t.Errorf("committed content = %q, want %q", data, "partial")
		}
	})

	t.Run("AbandonedWriterLeavesTargetUnmodified", func(t *testing.T) {
		backend := newBackend(t)

		if err := WriteFile(backend, "stable.txt", []byte("original")); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}

		writer, err := backend.Writer("stable.txt")
		if err != nil {
			t.Fatalf("Writer failed: %v", err)
		}
		if _, err := writer.Write([]byte("replacement that is never committed")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		// Drop the writer without Close.

		data, err := ReadFile(backend, "stable.txt")
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if string(data) != "original" {
			t.Errorf("abandoned writer modified target: %q", data)
		}
	})

	t.Run("OverwriteReplacesContent", func(t *testing.T) {
		backend := newBackend(t)

		if err := WriteFile(backend, "file.txt", []byte("first")); err != nil {
			t.Fatal(err)
		}
		if err := WriteFile(backend, "file.txt", []byte("second")); err != nil {
			t.Fatal(err)
		}
		data, _ := ReadFile(backend, "file.txt")
		if string(data) != "second" {
			t.Errorf("content after overwrite = %q, want %q", data, "second")
		}
	})

	t.Run("ReadDirSortedChildren", func(t *testing.T) {
		backend := newBackend(t)

		if err := backend.CreateDir("sub"); err != nil {
			t.Fatalf("CreateDir failed: %v", err)
		}
		for _, name := range []string{"zebra.txt", "apple.txt", "mango.txt"} {
			if err := WriteFile(backend, name, []byte(name)); err != nil {
				t.Fatal(err)
			}
		}

		entries, err := backend.ReadDir("")
		if err != nil {
			t.Fatalf("ReadDir failed: %v", err)
		}
		want := []Entry{
			{Name: "apple.txt"},
			{Name: "mango.txt"},
			{Name: "sub", IsDir: true},
			{Name: "zebra.txt"},
		}
		if len(entries) != len(want) {
			t.Fatalf("ReadDir returned %d entries, want %d: %+v", len(entries), len(want), entries)
		}
		for i := range want {
			if entries[i] != want[i] {
				t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
			}
		}
	})

	t.Run("ReadDirMissing", func(t *testing.T) {
		backend := newBackend(t)
		if _, err := backend.ReadDir("nope"); !IsNotExist(err) {
			t.Errorf("ReadDir on missing dir: err = %v, want not-exist", err)
		}
	})

	t.Run("IsDirAndExists", func(t *testing.T) {
		backend := newBackend(t)

		if err := backend.CreateDirAll("a/b/c"); err != nil {
			t.Fatalf("CreateDirAll failed: %v", err)
		}
		if err := WriteFile(backend, "a/b/c/f.txt", []byte("x")); err != nil {
			t.Fatal(err)
		}

		tests := []struct {
			path   string
			isDir  bool
			exists bool
		}{
			{"", true, true},
			{"a", true, true},
			{"a/b/c", true, true},
			{"a/b/c/f.txt", false, true},
			{"a/missing", false, false},
		}
		for _, test := range tests {
			isDir, err := backend.IsDir(test.path)
			if err != nil {
				t.Fatalf("IsDir(%q) failed: %v", test.path, err)
			}
			if isDir != test.isDir {
				t.Errorf("IsDir(%q) = %v, want %v", test.path, isDir, test.isDir)
			}
			exists, err := backend.Exists(test.path)
			if err != nil {
				t.Fatalf("Exists(%q) failed: %v", test.path, err)
			}
			if exists != test.exists {
				t.Errorf("Exists(%q) = %v, want %v", test.path, exists, test.exists)
			}
		}
	})

	t.Run("CreateDirRequiresParent", func(t *testing.T) {
		backend := newBackend(t)
		if err := backend.CreateDir("missing/child"); err == nil {
			t.Error("CreateDir without parent succeeded")
		}
		if err := backend.CreateDirAll("missing/child"); err != nil {
			t.Errorf("CreateDirAll failed: %v", err)
		}
	})

	t.Run("CreateDirAllIdempotent", func(t *testing.T) {
		backend := newBackend(t)
		if err := backend.CreateDirAll("x/y"); err != nil {
			t.Fatal(err)
		}
		if err := backend.CreateDirAll("x/y"); err != nil {
			t.Errorf("second CreateDirAll failed: %v", err)
		}
	})

	t.Run("RemoveFileOnly", func(t *testing.T) {
		backend := newBackend(t)

		if err := WriteFile(backend, "f.txt", []byte("x")); err != nil {
			t.Fatal(err)
		}
		if err := backend.CreateDir("d"); err != nil {
			t.Fatal(err)
		}

		if err := backend.Remove("d"); err == nil {
			t.Error("Remove on a directory succeeded")
		}
		if err := backend.Remove("f.txt"); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if exists, _ := backend.Exists("f.txt"); exists {
			t.Error("file still exists after Remove")
		}
		if err := backend.Remove("f.txt"); !IsNotExist(err) {
			t.Errorf("second Remove: err = %v, want not-exist", err)
		}
	})

	t.Run("RemoveDirRecursive", func(t *testing.T) {
		backend := newBackend(t)

		if err := backend.CreateDirAll("tree/inner"); err != nil {
			t.Fatal(err)
		}
		if err := WriteFile(backend, "tree/inner/leaf.txt", []byte("x")); err != nil {
			t.Fatal(err)
		}

		if err := backend.RemoveDir("tree"); err != nil {
			t.Fatalf("RemoveDir failed: %v", err)
		}
		if exists, _ := backend.Exists("tree"); exists {
			t.Error("directory still exists after RemoveDir")
		}
	})

	t.Run("Rename", func(t *testing.T) {
		backend := newBackend(t)

		if err := WriteFile(backend, "old.txt", []byte("payload")); err != nil {
			t.Fatal(err)
		}
		if err := backend.CreateDir("dest"); err != nil {
			t.Fatal(err)
		}
		if err := backend.Rename("old.txt", "dest/new.txt"); err != nil {
			t.Fatalf("Rename failed: %v", err)
		}
		if exists, _ := backend.Exists("old.txt"); exists {
			t.Error("source still exists after Rename")
		}
		data, err := ReadFile(backend, "dest/new.txt")
		if err != nil {
			t.Fatalf("ReadFile after Rename failed: %v", err)
		}
		if string(data) != "payload" {
			t.Errorf("renamed content = %q, want %q", data, "payload")
		}
	})

	t.Run("ReaderSnapshotSurvivesOverwrite", func(t *testing.T) {
		backend := newBackend(t)

		if err := WriteFile(backend, "f.txt", []byte("before")); err != nil {
			t.Fatal(err)
		}
		reader, err := backend.Reader("f.txt")
		if err != nil {
			t.Fatal(err)
		}
		defer reader.Close()

		if err := WriteFile(backend, "f.txt", []byte("after")); err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("reading open reader failed: %v", err)
		}
		if string(data) != "before" {
			t.Errorf("open reader observed overwrite: %q", data)
		}
	})
}

func TestMemBackendConformance(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) Backend {
		return NewMem()
	})
}

func TestDirBackendConformance(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) Backend {
		backend, err := NewDir(t.TempDir())
		if err != nil {
			t.Fatalf("NewDir failed: %v", err)
		}
		return backend
	})
}
