// Package account provides the fixed-width account identifier used across
// the ledger.
//
// # Format
//
// An ID is 32 raw bytes rendered as lowercase hex. Byte-wise comparison of
// IDs matches the ordering of their hex form, so IDs embed directly in
// lexicographically sorted storage keys.
package account

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Size is the identifier width in bytes.
const Size = 32

// ID is a fixed 32-byte account identifier.
type ID [Size]byte

// Parse decodes a hex string (with optional 0x prefix) into an ID.
func Parse(s string) (ID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("account: invalid id %q: %w", s, err)
	}
	if len(b) != Size {
		return ID{}, fmt.Errorf("account: id must be %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// FromBytes copies a 32-byte slice into an ID.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return ID{}, fmt.Errorf("account: id must be %d bytes, got %d", Size, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// Bytes returns the raw 32-byte representation.
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// String returns the lowercase hex form.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Compare returns -1, 0, 1 based on byte-wise comparison.
func (id ID) Compare(other ID) int { return bytes.Compare(id[:], other[:]) }

// IsZero reports whether the ID is all zero bytes.
func (id ID) IsZero() bool { return id == ID{} }
