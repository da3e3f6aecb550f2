// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package vfs provides the pipeline's filesystem abstraction: one
// polymorphic [Backend] interface over pluggable storage.
//
// Three backends ship with the package:
//
//   - [Dir]: a local filesystem directory. Writes stream to a temp
//     file and rename into place on Close, so a crashed or abandoned
//     write never leaves a half-written target.
//
//   - [Mem]: an in-memory tree, safe for concurrent use. It is the
//     conformance oracle: the shared backend test suite defines the
//     contract, and every backend must pass it identically.
//
//   - [Blob]: a read-only archive of a whole tree in a single byte
//     slice, built by [WriteBlob] and typically embedded in the host
//     binary. Entries are individually compressed (none, LZ4, or
//     zstd) and integrity-checked with BLAKE3 on every read.
//
// All paths are slash-separated and relative to the backend root;
// the empty path names the root directory. Failures carry the
// offending path in a [*PathError].
package vfs
