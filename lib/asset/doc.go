// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package asset defines the pipeline's core data model: stable asset
// identifiers, type discriminators, source paths, artifact metadata,
// and the change-detection checksum.
//
// An [ID] is a 128-bit value allocated the first time a source path
// is seen (via the settings sidecar, so it survives cache deletion)
// and tagged with a [Type] discriminator derived from the registered
// type name. Sub-asset ids are derived deterministically from the
// parent id with [DeriveID] so that reimporting a source yields the
// same child ids.
//
// [ArtifactMeta] is the header persisted in front of every artifact
// payload in the cache; see lib/cache for the binary framing.
//
// This package has no Kiln-internal dependencies.
package asset
