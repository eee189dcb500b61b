// Package mnemonic converts BIP39 recovery phrases to and from the raw
// entropy the HD handler is constructed from.
package mnemonic

import (
	"errors"
	"fmt"

	bip39 "github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidMnemonic = errors.New("mnemonic: invalid recovery phrase")
	ErrInvalidStrength = errors.New("mnemonic: entropy size not supported")
)

// Generate produces a fresh recovery phrase from bits of new entropy.
// Valid sizes are 128 to 256 in steps of 32; 256 yields 24 words.
func Generate(bits int) (string, error) {
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("%w: %d bits", ErrInvalidStrength, bits)
	}
	return bip39.NewMnemonic(entropy)
}

// FromEntropy encodes existing entropy as a recovery phrase.
func FromEntropy(entropy []byte) (string, error) {
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidStrength, err)
	}
	return phrase, nil
}

// ToEntropy decodes a recovery phrase back to its entropy, checking the
// embedded checksum.
func ToEntropy(phrase string) ([]byte, error) {
	entropy, err := bip39.EntropyFromMnemonic(phrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return entropy, nil
}

// Valid reports whether the phrase is well formed with a correct checksum.
func Valid(phrase string) bool {
	return bip39.IsMnemonicValid(phrase)
}
