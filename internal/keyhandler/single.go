package keyhandler

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"keybox/internal/derivation"
	"keybox/internal/keybox"
	"keybox/internal/passphrase"
	"keybox/internal/security"
	"keybox/internal/txid"
)

// SingleKey signs with one sealed Ed25519 key. It derives nothing: the
// sealed payload is the 32-byte seed, and every operation reconstructs the
// same keypair from it.
type SingleKey struct {
	box *keybox.Box
}

// NewSingleKey seals an Ed25519 private key under pass. It accepts either
// the 32-byte seed or the 64-byte expanded form, of which only the seed
// half is retained. Both priv and pass are wiped before return on every
// path.
func NewSingleKey(priv, pass []byte, src passphrase.Source) (*SingleKey, error) {
	defer security.Wipe(priv)

	seed := make([]byte, ed25519.SeedSize)
	switch len(priv) {
	case ed25519.SeedSize:
		copy(seed, priv)
	case ed25519.PrivateKeySize:
		copy(seed, priv[:ed25519.SeedSize])
	default:
		security.Wipe(pass)
		return nil, fmt.Errorf("%w: got %d bytes", ErrBadPrivateKeySize, len(priv))
	}

	box, err := keybox.New(keybox.KeyTypeEd25519, seed, pass, src)
	if err != nil {
		return nil, err
	}
	return &SingleKey{box: box}, nil
}

// DeserializeSingleKey parses a serialized container and rejects any
// variant other than the single-key one.
func DeserializeSingleKey(data []byte, src passphrase.Source) (*SingleKey, error) {
	box, err := keybox.Deserialize(data, src)
	if err != nil {
		return nil, err
	}
	if box.KeyType() != keybox.KeyTypeEd25519 {
		return nil, fmt.Errorf("%w: container holds %s", keybox.ErrUnsupportedKeyType, box.KeyType())
	}
	return &SingleKey{box: box}, nil
}

func (s *SingleKey) KeyType() keybox.KeyType { return s.box.KeyType() }

// Serialize re-emits the encrypted container. It never exposes key material.
func (s *SingleKey) Serialize() []byte { return s.box.Serialize() }

// Fingerprint identifies the sealed container for logs and status output.
func (s *SingleKey) Fingerprint() string { return s.box.Fingerprint() }

// PublicKey returns the 32-byte Ed25519 verification key.
func (s *SingleKey) PublicKey(ctx context.Context) ([]byte, error) {
	var out []byte
	err := s.box.WithSecret(ctx, func(seed []byte) error {
		priv := ed25519.NewKeyFromSeed(seed)
		defer security.Wipe(priv)

		pub := priv.Public().(ed25519.PublicKey)
		out = append([]byte(nil), pub...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SignTransaction hashes txBytes and signs the resulting id. The variadic
// paths exist to satisfy Handler; supplying any is an error rather than a
// silent ignore, since a caller passing paths expected hierarchical
// derivation this key cannot perform.
func (s *SingleKey) SignTransaction(ctx context.Context, txBytes []byte, paths ...derivation.Path) ([]Witness, error) {
	if len(paths) > 0 {
		return nil, fmt.Errorf("%w: got %d", ErrUnexpectedPath, len(paths))
	}

	id := txid.Hash(txBytes)

	var w Witness
	err := s.box.WithSecret(ctx, func(seed []byte) error {
		priv := ed25519.NewKeyFromSeed(seed)
		defer security.Wipe(priv)

		pub := priv.Public().(ed25519.PublicKey)
		w = Witness{
			VerificationKey: append([]byte(nil), pub...),
			Signature:       ed25519.Sign(priv, id.Bytes()),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []Witness{w}, nil
}

// SignData signs an arbitrary payload, unhashed.
func (s *SingleKey) SignData(ctx context.Context, data []byte) (*DataSignature, error) {
	var ds *DataSignature
	err := s.box.WithSecret(ctx, func(seed []byte) error {
		priv := ed25519.NewKeyFromSeed(seed)
		defer security.Wipe(priv)

		pub := priv.Public().(ed25519.PublicKey)
		ds = &DataSignature{
			Signature: ed25519.Sign(priv, data),
			Key:       append([]byte(nil), pub...),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}
