package txid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKnownVectors(t *testing.T) {
	// BLAKE2b-256 reference vectors.
	assert.Equal(t,
		"0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8",
		Hash(nil).String())

	assert.Equal(t,
		"bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319",
		Hash([]byte("abc")).String())
}

func TestHashDeterministic(t *testing.T) {
	tx := []byte{0x84, 0xa4, 0x00, 0x81, 0x82}

	a := Hash(tx)
	b := Hash(tx)
	assert.Equal(t, a, b)

	tx[0] ^= 0xFF
	assert.NotEqual(t, a, Hash(tx))
}

func TestBytesLength(t *testing.T) {
	assert.Len(t, Hash([]byte("x")).Bytes(), Size)
}
