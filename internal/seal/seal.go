// Package seal implements the passphrase sealing primitive that protects
// root key material at rest.
//
// A sealed box is salt || nonce || ciphertext: a random 16-byte Argon2id
// salt, a random 24-byte XChaCha20-Poly1305 nonce, and the AEAD output.
// Open fails closed with ErrAuthenticationFailed on a wrong passphrase and
// on any form of corruption; the two cases are intentionally not
// distinguishable from the error value.
package seal

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"keybox/internal/security"
)

// Argon2id parameters. Fixed for every box this version writes.
const (
	kdfTime     = 2
	kdfMemoryKB = 64 * 1024
	kdfThreads  = 1

	saltSize = 16
)

// Overhead is the number of bytes a sealed box adds over its plaintext.
const Overhead = saltSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// ErrAuthenticationFailed reports that a box could not be opened. Wrong
// passphrase and tampered ciphertext surface identically.
var ErrAuthenticationFailed = errors.New("seal: authentication failed")

// Seal encrypts plaintext under passphrase. The passphrase and plaintext
// buffers are left untouched; callers own their lifecycle.
func Seal(plaintext, passphrase []byte) ([]byte, error) {
	salt, err := security.GenerateRandom(saltSize)
	if err != nil {
		return nil, fmt.Errorf("seal: salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	defer security.Wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	nonce, err := security.GenerateRandom(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}

	box := make([]byte, 0, len(plaintext)+Overhead)
	box = append(box, salt...)
	box = append(box, nonce...)
	box = aead.Seal(box, nonce, plaintext, nil)
	return box, nil
}

// Open decrypts a sealed box with passphrase and returns the plaintext.
// The caller inherits responsibility for wiping the returned buffer.
func Open(box, passphrase []byte) ([]byte, error) {
	if len(box) < Overhead {
		return nil, ErrAuthenticationFailed
	}

	salt := box[:saltSize]
	nonce := box[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := box[saltSize+chacha20poly1305.NonceSizeX:]

	key := deriveKey(passphrase, salt)
	defer security.Wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, kdfTime, kdfMemoryKB, kdfThreads, chacha20poly1305.KeySize)
}
