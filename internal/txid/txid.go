// Package txid computes transaction content identifiers.
//
// The key handlers treat a transaction as an opaque byte blob; what gets
// signed is its 32-byte BLAKE2b-256 content hash, the id the ledger itself
// uses to reference the transaction.
package txid

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Size is the length of a transaction id in bytes.
const Size = 32

// ID is a transaction content hash.
type ID [Size]byte

// Hash computes the content id of serialized transaction bytes.
func Hash(txBytes []byte) ID {
	return ID(blake2b.Sum256(txBytes))
}

// Bytes returns the id as a slice.
func (id ID) Bytes() []byte {
	return id[:]
}

// String returns the lowercase hex form of the id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}
