package keyhandler

import (
	"context"
	"fmt"

	cardanocrypto "github.com/echovl/cardano-go/crypto"

	"keybox/internal/derivation"
	"keybox/internal/keybox"
	"keybox/internal/mnemonic"
	"keybox/internal/passphrase"
	"keybox/internal/security"
	"keybox/internal/txid"
)

// HD signs and derives below a sealed hierarchical-deterministic seed.
//
// The sealed payload is the BIP-39 entropy, not a derived key. Each
// operation reconstructs the root extended private key from the entropy,
// walks the requested derivation paths, and wipes the root and every
// intermediate key before returning. Child derivation follows
// BIP32-Ed25519, so non-hardened path components stay compatible with
// account-level public derivation.
type HD struct {
	box *keybox.Box
}

// NewHD seals entropy under pass and returns a handler over the result.
// Both entropy and pass are wiped before return on every path. The source
// supplies the passphrase for later operations.
func NewHD(entropy, pass []byte, src passphrase.Source) (*HD, error) {
	box, err := keybox.New(keybox.KeyTypeHD, entropy, pass, src)
	if err != nil {
		return nil, err
	}
	return &HD{box: box}, nil
}

// NewHDFromMnemonic decodes a BIP-39 phrase and seals its entropy.
// The phrase is a Go string and cannot be zeroed; callers holding the
// secret in a mutable buffer should decode it themselves and use NewHD.
func NewHDFromMnemonic(phrase string, pass []byte, src passphrase.Source) (*HD, error) {
	entropy, err := mnemonic.ToEntropy(phrase)
	if err != nil {
		security.Wipe(pass)
		return nil, err
	}
	return NewHD(entropy, pass, src)
}

// DeserializeHD parses a serialized container and rejects any variant
// other than the hierarchical one.
func DeserializeHD(data []byte, src passphrase.Source) (*HD, error) {
	box, err := keybox.Deserialize(data, src)
	if err != nil {
		return nil, err
	}
	if box.KeyType() != keybox.KeyTypeHD {
		return nil, fmt.Errorf("%w: container holds %s", keybox.ErrUnsupportedKeyType, box.KeyType())
	}
	return &HD{box: box}, nil
}

func (h *HD) KeyType() keybox.KeyType { return h.box.KeyType() }

// Serialize re-emits the encrypted container. It never exposes key material.
func (h *HD) Serialize() []byte { return h.box.Serialize() }

// Fingerprint identifies the sealed container for logs and status output.
func (h *HD) Fingerprint() string { return h.box.Fingerprint() }

// AccountPublicKey derives the account node and returns its 64-byte
// extended public key, public key followed by chain code. The result
// supports watch-only derivation of the account's non-hardened children.
func (h *HD) AccountPublicKey(ctx context.Context, account derivation.Account) ([]byte, error) {
	if err := account.Validate(); err != nil {
		return nil, err
	}

	var out []byte
	err := h.box.WithSecret(ctx, func(entropy []byte) error {
		root := rootKey(entropy)
		defer security.Wipe(root)

		child := deriveFrom(root, account.Components())
		defer security.Wipe(child)

		xpub := child.XPubKey()
		out = make([]byte, len(xpub))
		copy(out, xpub)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SignTransaction hashes txBytes once and signs the resulting id with the
// child key at every path, in input order. Duplicate paths yield duplicate
// witnesses. The seed is decrypted once for the whole batch; an empty path
// set fails before the passphrase source is consulted.
func (h *HD) SignTransaction(ctx context.Context, txBytes []byte, paths ...derivation.Path) ([]Witness, error) {
	if len(paths) == 0 {
		return nil, ErrEmptyDerivationSet
	}
	for _, p := range paths {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	id := txid.Hash(txBytes)

	witnesses := make([]Witness, 0, len(paths))
	err := h.box.WithSecret(ctx, func(entropy []byte) error {
		root := rootKey(entropy)
		defer security.Wipe(root)

		for _, p := range paths {
			child := deriveFrom(root, p.Components())
			xpub := child.XPubKey()
			sig := child.Sign(id.Bytes())
			security.Wipe(child)

			witnesses = append(witnesses, Witness{
				VerificationKey: append([]byte(nil), xpub[:32]...),
				Signature:       sig,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return witnesses, nil
}

// SignData signs an arbitrary payload, unhashed, with the child key at
// path. Transaction signing must go through SignTransaction so that
// witnesses commit to the content id rather than the raw bytes.
func (h *HD) SignData(ctx context.Context, data []byte, path derivation.Path) (*DataSignature, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}

	var ds *DataSignature
	err := h.box.WithSecret(ctx, func(entropy []byte) error {
		root := rootKey(entropy)
		defer security.Wipe(root)

		child := deriveFrom(root, path.Components())
		defer security.Wipe(child)

		xpub := child.XPubKey()
		ds = &DataSignature{
			Signature: child.Sign(data),
			Key:       append([]byte(nil), xpub[:32]...),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// PrivateKey derives and returns the 96-byte extended child private key at
// path. The result is secret material the handler no longer tracks: the
// caller owns the buffer and is responsible for wiping it. Root and
// intermediate keys are still wiped before return.
func (h *HD) PrivateKey(ctx context.Context, path derivation.Path) ([]byte, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}

	var out []byte
	err := h.box.WithSecret(ctx, func(entropy []byte) error {
		root := rootKey(entropy)
		defer security.Wipe(root)

		out = deriveFrom(root, path.Components())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// rootKey reconstructs the root extended private key from sealed entropy.
// The derivation password is fixed empty; the sealing passphrase guards
// the entropy instead and never enters key derivation.
func rootKey(entropy []byte) cardanocrypto.XPrvKey {
	return cardanocrypto.NewXPrvKeyFromEntropy(entropy, "")
}

// deriveFrom walks components from root, wiping every intermediate key.
// The root is left intact for further walks; the returned child is the
// caller's to wipe.
func deriveFrom(root cardanocrypto.XPrvKey, components []uint32) cardanocrypto.XPrvKey {
	key := root
	for i, c := range components {
		next := key.Derive(c)
		if i > 0 {
			security.Wipe(key)
		}
		key = next
	}
	return key
}
