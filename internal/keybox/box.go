// Package keybox implements the encrypted key container: sealed root key
// material, decrypt-on-demand with a guaranteed zeroization contract, and the
// versioned binary wire format.
//
// A Box never holds plaintext key material as a field. The decrypted root
// key exists only as a transient buffer inside WithSecret, and that buffer
// is zeroed on every exit path before the call returns.
package keybox

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"keybox/internal/passphrase"
	"keybox/internal/seal"
	"keybox/internal/security"
)

// Construction errors.
var (
	ErrNoKeyMaterial   = errors.New("keybox: empty key material")
	ErrEmptyPassphrase = errors.New("keybox: empty passphrase")
	ErrNoSource        = errors.New("keybox: nil passphrase source")
)

// Box holds sealed key material. The ciphertext is immutable after
// construction; operations never mutate a Box. Concurrent calls are safe as
// far as the Box is concerned (each decrypt works on its own buffers), but
// the injected passphrase source must tolerate concurrent invocation if
// callers overlap operations.
type Box struct {
	keyType    KeyType
	ciphertext []byte
	source     passphrase.Source
}

// New seals material under pass and returns a container that holds only the
// ciphertext plus the passphrase source for later decrypts.
//
// Both input buffers are zeroed before New returns, on success and on
// failure; callers must not reuse them.
func New(keyType KeyType, material, pass []byte, src passphrase.Source) (*Box, error) {
	defer security.Wipe(material)
	defer security.Wipe(pass)

	if !keyType.Valid() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedKeyType, byte(keyType))
	}
	if len(material) == 0 {
		return nil, ErrNoKeyMaterial
	}
	if len(pass) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if src == nil {
		return nil, ErrNoSource
	}

	ciphertext, err := seal.Seal(material, pass)
	if err != nil {
		return nil, err
	}

	return &Box{
		keyType:    keyType,
		ciphertext: ciphertext,
		source:     src,
	}, nil
}

// Deserialize parses the wire format into a container.
//
// Only structure and checksum are validated here; the passphrase is not
// checked. A container whose ciphertext was corrupted without disturbing the
// frame fails at first key use with seal.ErrAuthenticationFailed.
func Deserialize(data []byte, src passphrase.Source) (*Box, error) {
	if src == nil {
		return nil, ErrNoSource
	}

	keyType, payload, err := decodeContainer(data)
	if err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(payload))
	copy(ciphertext, payload)

	return &Box{
		keyType:    keyType,
		ciphertext: ciphertext,
		source:     src,
	}, nil
}

// KeyType reports which handler variant the contained material belongs to.
func (b *Box) KeyType() KeyType {
	return b.keyType
}

// Serialize re-emits the wire format from the current ciphertext. No
// decryption happens and the output is deterministic for a given Box.
func (b *Box) Serialize() []byte {
	return encodeContainer(b.keyType, b.ciphertext)
}

// Fingerprint returns a short hex identifier derived from the key type and
// ciphertext. Safe for logs and display; carries no key material.
func (b *Box) Fingerprint() string {
	return fingerprint(b.keyType, b.ciphertext)
}

func fingerprint(keyType KeyType, ciphertext []byte) string {
	sum := blake2b.Sum256(append([]byte{byte(keyType)}, ciphertext...))
	return hex.EncodeToString(sum[:8])
}

// Info describes a serialized container without constructing a Box.
type Info struct {
	Version     byte
	KeyType     KeyType
	PayloadSize int
	Fingerprint string
}

// Inspect validates a serialized container and reports its header fields and
// fingerprint. Nothing is decrypted and no passphrase source is needed.
func Inspect(data []byte) (*Info, error) {
	keyType, payload, err := decodeContainer(data)
	if err != nil {
		return nil, err
	}
	return &Info{
		Version:     data[4],
		KeyType:     keyType,
		PayloadSize: len(payload),
		Fingerprint: fingerprint(keyType, payload),
	}, nil
}

// WithSecret runs fn against the decrypted root key material.
//
// The passphrase source is invoked fresh, its buffer is zeroed after the
// unseal, and the plaintext buffer is zeroed after fn returns. Both wipes
// run on every exit path, including when the unseal fails or fn returns an
// error; cleanup is not cancellable. fn must not retain the buffer.
//
// This is the decrypt-on-demand primitive the handler variants are built on;
// it is not part of the end-user surface.
func (b *Box) WithSecret(ctx context.Context, fn func(secret []byte) error) error {
	pass, err := b.source(ctx)
	if err != nil {
		return fmt.Errorf("keybox: passphrase source: %w", err)
	}
	defer security.Wipe(pass)

	secret, err := seal.Open(b.ciphertext, pass)
	if err != nil {
		return err
	}
	defer security.Wipe(secret)

	return fn(secret)
}
