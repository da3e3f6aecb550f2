// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/kilnworks/kiln/lib/codec"
)

// blobMagic opens every blob archive. The trailing digit is the
// format version.
var blobMagic = [8]byte{'K', 'I', 'L', 'N', 'B', 'L', 'B', '1'}

// Blob archive layout:
//
//	magic: 8 bytes
//	index length: u64 little-endian
//	index: deterministic CBOR, blobIndex
//	data section: entries at index-recorded offsets
//
// Offsets are relative to the start of the data section.

// blobEntry describes one file in the archive index.
type blobEntry struct {
	Path        string   `json:"path"`
	Offset      uint64   `json:"offset"`
	StoredSize  uint64   `json:"stored_size"`
	Size        uint64   `json:"size"`
	Compression uint8    `json:"compression"`
	Hash        [32]byte `json:"hash"`
}

// blobIndex is the archive's CBOR index. Dirs records explicitly
// created directories (including empty ones); file entries imply
// their parents.
type blobIndex struct {
	Files []blobEntry `json:"files"`
	Dirs  []string    `json:"dirs,omitempty"`
}

// Blob is a read-only Backend over a single archive blob, typically
// embedded in the host binary via go:embed. Entries are compressed
// individually and integrity-checked with BLAKE3 on read.
//
// All mutating operations fail with [ErrReadOnly].
type Blob struct {
	files map[string]blobEntry
	dirs  map[string]struct{}
	data  []byte
}

// OpenBlob parses a blob archive. The backend retains data; callers
// must not mutate it afterward.
func OpenBlob(data []byte) (*Blob, error) {
	if len(data) < 16 || !bytes.Equal(data[:8], blobMagic[:]) {
		return nil, fmt.Errorf("opening blob archive: bad magic")
	}
	indexLength := binary.LittleEndian.Uint64(data[8:16])
	if indexLength > uint64(len(data)-16) {
		return nil, fmt.Errorf("opening blob archive: index length %d exceeds archive size", indexLength)
	}

	var index blobIndex
	if err := codec.Unmarshal(data[16:16+indexLength], &index); err != nil {
		return nil, fmt.Errorf("decoding blob archive index: %w", err)
	}

	blob := &Blob{
		files: make(map[string]blobEntry, len(index.Files)),
		dirs:  map[string]struct{}{"": {}},
		data:  data[16+indexLength:],
	}
	for _, entry := range index.Files {
		blob.files[entry.Path] = entry
		for dir := parentPath(entry.Path); dir != ""; dir = parentPath(dir) {
			blob.dirs[dir] = struct{}{}
		}
	}
	for _, dir := range index.Dirs {
		for ; dir != ""; dir = parentPath(dir) {
			blob.dirs[dir] = struct{}{}
		}
	}
	return blob, nil
}

func parentPath(path string) string {
	slash := strings.LastIndexByte(path, '/')
	if slash < 0 {
		return ""
	}
	return path[:slash]
}

func (b *Blob) Reader(path string) (io.ReadCloser, error) {
	entry, ok := b.files[path]
	if !ok {
		return nil, pathError("reader", path, ErrNotExist)
	}
	if entry.Offset+entry.StoredSize > uint64(len(b.data)) {
		return nil, pathError("reader", path, fmt.Errorf("entry extends past end of archive"))
	}

	stored := b.data[entry.Offset : entry.Offset+entry.StoredSize]
	content, err := decompressEntry(stored, CompressionTag(entry.Compression), int(entry.Size))
	if err != nil {
		return nil, pathError("reader", path, err)
	}
	if blake3.Sum256(content) != entry.Hash {
		return nil, pathError("reader", path, fmt.Errorf("content hash mismatch"))
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (b *Blob) Writer(path string) (io.WriteCloser, error) {
	return nil, pathError("writer", path, ErrReadOnly)
}

func (b *Blob) ReadDir(path string) ([]Entry, error) {
	if _, ok := b.dirs[path]; !ok {
		if _, isFile := b.files[path]; isFile {
			return nil, pathError("read_dir", path, ErrNotDir)
		}
		return nil, pathError("read_dir", path, ErrNotExist)
	}

	seen := make(map[string]bool)
	var entries []Entry
	appendChild := func(child string, isDir bool) {
		remainder := child
		if path != "" {
			if !strings.HasPrefix(child, path+"/") {
				return
			}
			remainder = child[len(path)+1:]
		}
		if remainder == "" || strings.ContainsRune(remainder, '/') {
			return
		}
		if !seen[remainder] {
			seen[remainder] = true
			entries = append(entries, Entry{Name: remainder, IsDir: isDir})
		}
	}
	for file := range b.files {
		appendChild(file, false)
	}
	for dir := range b.dirs {
		appendChild(dir, true)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (b *Blob) IsDir(path string) (bool, error) {
	_, ok := b.dirs[path]
	return ok, nil
}

func (b *Blob) Exists(path string) (bool, error) {
	if _, ok := b.files[path]; ok {
		return true, nil
	}
	_, ok := b.dirs[path]
	return ok, nil
}

func (b *Blob) CreateDir(path string) error {
	return pathError("create_dir", path, ErrReadOnly)
}

func (b *Blob) CreateDirAll(path string) error {
	return pathError("create_dir_all", path, ErrReadOnly)
}

func (b *Blob) Remove(path string) error {
	return pathError("remove", path, ErrReadOnly)
}

func (b *Blob) RemoveDir(path string) error {
	return pathError("remove_dir", path, ErrReadOnly)
}

func (b *Blob) Rename(from, to string) error {
	return pathError("rename", from, ErrReadOnly)
}

// WriteBlob serializes the full tree of source into a blob archive
// on w. Each file is compressed with the requested algorithm (with
// automatic fallback to none when incompressible) and recorded with
// its BLAKE3 content hash. Entries are emitted in sorted path order
// so identical trees produce identical archives.
func WriteBlob(w io.Writer, source Backend, tag CompressionTag) error {
	var index blobIndex
	var dataSection bytes.Buffer

	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := source.ReadDir(dir)
		if err != nil {
			return err
		}
		if len(entries) == 0 && dir != "" {
			index.Dirs = append(index.Dirs, dir)
		}
		for _, entry := range entries {
			child := entry.Name
			if dir != "" {
				child = dir + "/" + entry.Name
			}
			if entry.IsDir {
				if err := walk(child); err != nil {
					return err
				}
				continue
			}

			content, err := ReadFile(source, child)
			if err != nil {
				return err
			}
			stored, actualTag, err := compressEntry(content, tag)
			if err != nil {
				return fmt.Errorf("compressing blob entry %s: %w", child, err)
			}
			index.Files = append(index.Files, blobEntry{
				Path:        child,
				Offset:      uint64(dataSection.Len()),
				StoredSize:  uint64(len(stored)),
				Size:        uint64(len(content)),
				Compression: uint8(actualTag),
				Hash:        blake3.Sum256(content),
			})
			dataSection.Write(stored)
		}
		return nil
	}
	if err := walk(""); err != nil {
		return err
	}

	sort.Slice(index.Files, func(i, j int) bool { return index.Files[i].Path < index.Files[j].Path })
	sort.Strings(index.Dirs)

	encodedIndex, err := codec.Marshal(index)
	if err != nil {
		return fmt.Errorf("encoding blob archive index: %w", err)
	}

	var header [16]byte
	copy(header[:8], blobMagic[:])
	binary.LittleEndian.PutUint64(header[8:], uint64(len(encodedIndex)))

	for _, section := range [][]byte{header[:], encodedIndex, dataSection.Bytes()} {
		if _, err := w.Write(section); err != nil {
			return fmt.Errorf("writing blob archive: %w", err)
		}
	}
	return nil
}
