// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kilnworks/kiln/lib/asset"
	"github.com/kilnworks/kiln/lib/codec"
)

// Artifact file layout (little-endian everywhere):
//
//	header: u64, size of the meta blob in bytes
//	meta:   deterministic CBOR, asset.ArtifactMeta
//	payload: opaque bytes to end of file
//
// The meta blob is deterministic CBOR so identical metadata always
// produces identical files; meta-only reads stop after the blob and
// never touch the payload.

// headerSize is the fixed length prefix before the meta blob.
const headerSize = 8

// encodeArtifact serializes a full artifact file.
func encodeArtifact(artifact *asset.Artifact) ([]byte, error) {
	meta, err := codec.Marshal(&artifact.Meta)
	if err != nil {
		return nil, fmt.Errorf("encoding artifact meta for %s: %w", artifact.Meta.ID, err)
	}

	buffer := make([]byte, headerSize, headerSize+len(meta)+len(artifact.Payload))
	binary.LittleEndian.PutUint64(buffer[:headerSize], uint64(len(meta)))
	buffer = append(buffer, meta...)
	buffer = append(buffer, artifact.Payload...)
	return buffer, nil
}

// decodeArtifact parses a full artifact file.
func decodeArtifact(data []byte) (*asset.Artifact, error) {
	meta, metaLength, err := decodeMetaPrefix(data)
	if err != nil {
		return nil, err
	}
	return &asset.Artifact{
		Meta:    *meta,
		Payload: data[headerSize+metaLength:],
	}, nil
}

// decodeMetaPrefix parses the header and meta blob from the front of
// an artifact file, returning the meta and its encoded length.
func decodeMetaPrefix(data []byte) (*asset.ArtifactMeta, int, error) {
	if len(data) < headerSize {
		return nil, 0, fmt.Errorf("artifact file is %d bytes, shorter than the %d-byte header", len(data), headerSize)
	}
	metaLength := binary.LittleEndian.Uint64(data[:headerSize])
	if metaLength > uint64(len(data)-headerSize) {
		return nil, 0, fmt.Errorf("artifact meta length %d exceeds file size %d", metaLength, len(data))
	}

	var meta asset.ArtifactMeta
	if err := codec.Unmarshal(data[headerSize:headerSize+metaLength], &meta); err != nil {
		return nil, 0, fmt.Errorf("decoding artifact meta: %w", err)
	}
	return &meta, int(metaLength), nil
}

// readMeta reads only the header and meta blob from r, stopping
// before the payload.
func readMeta(r io.Reader) (*asset.ArtifactMeta, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading artifact header: %w", err)
	}
	metaLength := binary.LittleEndian.Uint64(header[:])
	if metaLength > maxMetaSize {
		return nil, fmt.Errorf("artifact meta length %d exceeds sanity limit", metaLength)
	}

	encoded := make([]byte, metaLength)
	if _, err := io.ReadFull(r, encoded); err != nil {
		return nil, fmt.Errorf("reading artifact meta: %w", err)
	}

	var meta asset.ArtifactMeta
	if err := codec.Unmarshal(encoded, &meta); err != nil {
		return nil, fmt.Errorf("decoding artifact meta: %w", err)
	}
	return &meta, nil
}

// maxMetaSize bounds the meta blob on meta-only reads so a corrupt
// header cannot trigger a giant allocation. Metadata is a few
// hundred bytes in practice; 16 MiB is far beyond any legitimate
// dependency list.
const maxMetaSize = 16 * 1024 * 1024
