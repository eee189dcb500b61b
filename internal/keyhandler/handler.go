// Package keyhandler exposes signing and public-key retrieval over sealed
// key material.
//
// Two variants share one lifecycle: HD wraps a hierarchical-deterministic
// seed and derives child keys per operation; SingleKey wraps one
// non-derivable Ed25519 key. Both hold only an encrypted container between
// calls. Every operation that needs the root key runs one
// decrypt-use-wipe cycle through the container; no plaintext survives an
// operation, and handlers are always at rest sealed.
//
// Handlers are not internally synchronized. Concurrent operations are safe
// in that each works on its own transient buffers, but the passphrase
// source injected at construction must tolerate concurrent invocation.
package keyhandler

import (
	"context"
	"crypto/ed25519"
	"errors"

	"keybox/internal/derivation"
	"keybox/internal/keybox"
	"keybox/internal/passphrase"
)

var (
	// ErrEmptyDerivationSet is returned by HD.SignTransaction when no paths
	// are supplied. It surfaces before the passphrase source is consulted.
	ErrEmptyDerivationSet = errors.New("keyhandler: no derivation paths supplied")

	// ErrUnexpectedPath is returned by SingleKey.SignTransaction when
	// derivation paths are supplied to the non-derivable variant.
	ErrUnexpectedPath = errors.New("keyhandler: single-key handler takes no derivation paths")

	ErrBadPrivateKeySize = errors.New("keyhandler: private key must be 32 or 64 bytes")
)

// Witness is the observable output of signing a transaction: the 32-byte
// Ed25519 verification key of the signing child and its signature over the
// transaction id. It carries no secret material.
type Witness struct {
	VerificationKey []byte
	Signature       []byte
}

// Verify reports whether the witness signature is valid over message.
func (w Witness) Verify(message []byte) bool {
	if len(w.VerificationKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(w.VerificationKey), message, w.Signature)
}

// DataSignature is the result of signing an arbitrary payload.
type DataSignature struct {
	Signature []byte
	Key       []byte
}

// Handler is the closed capability set shared by the two variants.
type Handler interface {
	// KeyType identifies the variant.
	KeyType() keybox.KeyType

	// Serialize re-emits the encrypted container in its wire format.
	Serialize() []byte

	// SignTransaction signs the transaction's content id. The HD variant
	// requires at least one derivation path and returns one witness per
	// path in input order; the single-key variant takes no paths and
	// returns exactly one witness.
	SignTransaction(ctx context.Context, txBytes []byte, paths ...derivation.Path) ([]Witness, error)
}

// Deserialize parses a serialized container and constructs the handler
// variant its keyType field names.
func Deserialize(data []byte, src passphrase.Source) (Handler, error) {
	box, err := keybox.Deserialize(data, src)
	if err != nil {
		return nil, err
	}

	switch box.KeyType() {
	case keybox.KeyTypeHD:
		return &HD{box: box}, nil
	case keybox.KeyTypeEd25519:
		return &SingleKey{box: box}, nil
	default:
		// decodeContainer already rejects unknown types.
		return nil, keybox.ErrUnsupportedKeyType
	}
}
