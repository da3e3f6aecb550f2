// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the runtime table of asset types: which
// importer handles each file extension, which types have processors,
// and the type-erased serialization thunks that move asset values in
// and out of artifact payloads.
//
// The host registers everything at startup through the generic
// [RegisterAssetType], [RegisterImporter], and [RegisterProcessor]
// functions; generics generate the per-type thunks so the table
// itself stays type-erased. After startup the registry is read-only
// and safe to share across all pipeline tasks without locking.
package registry
