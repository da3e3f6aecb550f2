// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Kiln's canonical binary encoding: CBOR
// (RFC 8949) with Core Deterministic Encoding.
//
// Every binary structure the pipeline persists — artifact metadata,
// the asset library, binary sidecars, blob archive indexes — goes
// through this package. Deterministic encoding (sorted map keys,
// smallest integer form, no indefinite-length items) guarantees that
// the same logical value always produces the same bytes, which is a
// load-bearing property: artifact files must be reproducible
// bit-for-bit from sources and sidecars alone.
//
// The package wraps github.com/fxamacker/cbor/v2 so that consumers
// depend only on lib/codec and the encoder configuration lives in
// exactly one place.
package codec
