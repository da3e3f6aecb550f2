// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache implements the artifact cache store: the on-disk (or
// in-memory, for tests) directory holding one binary artifact file
// per asset id, the temp staging area used during a reconciliation
// pass, and the persisted asset library.
//
// Layout under the cache root:
//
//	artifacts/<id>  committed artifact files
//	temp/<id>       staging area, cleared by Init and removed at pass end
//	assets.lib      the serialized library (TOML or CBOR, fixed per instance)
//	cache.lock      advisory lock taken by Open
//
// Artifact files are a u64 little-endian meta length, a
// deterministic CBOR ArtifactMeta blob, then the opaque payload.
// Meta-only reads stop after the blob and are cached in an LRU,
// which keeps dependency-staleness scans off disk.
package cache
