// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Type is a compact asset type discriminator: the first 8 bytes
// (little-endian) of a domain-keyed BLAKE3 hash of the registered
// type name. Every ID carries its Type; the pipeline uses it to
// dispatch to the right importer, processor, and serializer.
type Type uint64

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures that the same input bytes produce different
// hashes in different contexts. The byte values are the ASCII
// encoding of the domain name, zero-padded to 32 bytes, so the keys
// are inspectable in hex dumps without sacrificing any property of
// the keyed mode.
type domainKey [32]byte

var (
	typeDomainKey = domainKey{
		'k', 'i', 'l', 'n', '.', 'a', 's', 's', 'e', 't', '.', 't', 'y', 'p', 'e', 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	subDomainKey = domainKey{
		'k', 'i', 'l', 'n', '.', 'a', 's', 's', 'e', 't', '.', 's', 'u', 'b', 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// TypeOf computes the type discriminator for a registered type name.
// The result is stable across runs and platforms: the name is hashed
// with a domain-keyed BLAKE3 and the first 8 bytes are interpreted as
// a little-endian uint64.
func TypeOf(name string) Type {
	digest := keyedHash(typeDomainKey, []byte(name))
	return Type(binary.LittleEndian.Uint64(digest[:8]))
}

// String returns the canonical 16-character hex form of a type
// discriminator.
func (t Type) String() string {
	return fmt.Sprintf("%016x", uint64(t))
}

// ID is a 128-bit stable asset identifier tagged with its asset
// type. Two ids are equal iff their raw bits and type are equal. Ids
// are allocated when an asset is first seen by a scan and persist
// across runs via the settings sidecar.
//
// The zero ID is invalid and reports true from [ID.IsZero].
type ID struct {
	bits [16]byte
	typ  Type
}

// NewID allocates a fresh random id for the given type. Used when a
// source path is seen for the first time and has no sidecar yet.
func NewID(typ Type) ID {
	return ID{bits: [16]byte(uuid.New()), typ: typ}
}

// IDFromBits constructs an id from raw bits and a type. Used when
// decoding persisted ids.
func IDFromBits(bits [16]byte, typ Type) ID {
	return ID{bits: bits, typ: typ}
}

// DeriveID computes a stable sub-asset id from the parent id, the
// sub-asset's type, and its name within the parent. Derivation is
// deterministic so a reimport that produces the same sub-assets
// yields the same child ids, and dependents on those children stay
// valid across reimports.
func DeriveID(parent ID, typ Type, name string) ID {
	input := make([]byte, 0, 16+8+len(name))
	input = append(input, parent.bits[:]...)
	input = binary.LittleEndian.AppendUint64(input, uint64(typ))
	input = append(input, name...)
	digest := keyedHash(subDomainKey, input)

	var bits [16]byte
	copy(bits[:], digest[:16])
	return ID{bits: bits, typ: typ}
}

// Type returns the asset type discriminator carried by the id.
func (id ID) Type() Type {
	return id.typ
}

// Bits returns the raw 128-bit identifier value.
func (id ID) Bits() [16]byte {
	return id.bits
}

// IsZero reports whether the id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// String returns the canonical text form: 32 hex characters of the
// raw bits, a dash, then the 16 hex characters of the type. This is
// also the artifact file name for the id.
func (id ID) String() string {
	return hex.EncodeToString(id.bits[:]) + "-" + id.typ.String()
}

// MarshalText implements encoding.TextMarshaler. Sidecars, the
// library file, and CBOR metadata all store ids in the canonical
// text form.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses the canonical text form produced by [ID.String].
func ParseID(s string) (ID, error) {
	bitsPart, typePart, found := strings.Cut(s, "-")
	if !found {
		return ID{}, fmt.Errorf("parsing asset id %q: missing type separator", s)
	}

	rawBits, err := hex.DecodeString(bitsPart)
	if err != nil {
		return ID{}, fmt.Errorf("parsing asset id %q: %w", s, err)
	}
	if len(rawBits) != 16 {
		return ID{}, fmt.Errorf("parsing asset id %q: id is %d bytes, want 16", s, len(rawBits))
	}

	rawType, err := hex.DecodeString(typePart)
	if err != nil {
		return ID{}, fmt.Errorf("parsing asset id %q: %w", s, err)
	}
	if len(rawType) != 8 {
		return ID{}, fmt.Errorf("parsing asset id %q: type is %d bytes, want 8", s, len(rawType))
	}

	var id ID
	copy(id.bits[:], rawBits)
	id.typ = Type(binary.BigEndian.Uint64(rawType))
	return id, nil
}

// keyedHash computes the BLAKE3 keyed hash of data with the given
// domain key.
func keyedHash(key domainKey, data []byte) [32]byte {
	// NewKeyed requires exactly 32 bytes, which domainKey guarantees.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("asset: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}
