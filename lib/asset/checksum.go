// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import "hash/crc32"

// Checksum computes the change-detection checksum for an asset:
// CRC32 (IEEE polynomial) over sourceBytes ‖ settingsBytes, in that
// order, with no separator. The incremental form below is equivalent
// to hashing the concatenation and avoids building it.
//
// The checksum is the pipeline's only change signal: it is recorded
// in the library and in artifact metadata, and a mismatch is what
// classifies a path as Modified.
func Checksum(sourceBytes, settingsBytes []byte) uint32 {
	sum := crc32.Update(0, crc32.IEEETable, sourceBytes)
	return crc32.Update(sum, crc32.IEEETable, settingsBytes)
}
