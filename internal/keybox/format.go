package keybox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Wire format constants. A serialized container is
//
//	offset  size  field
//	0       4     magic    = 0x0A0A0A0A
//	4       1     version  = 0x01
//	5       1     keyType
//	6       4     dataLen  = N
//	10      N     ciphertext payload
//	10+N    4     crc32 over bytes [0, 10+N)
//
// All integers are big-endian and unsigned. Total length is 14 + N.
const (
	Magic   uint32 = 0x0A0A0A0A
	Version byte   = 0x01

	headerSize  = 10
	trailerSize = 4

	// MinSize is the smallest structurally valid container (empty payload).
	MinSize = headerSize + trailerSize
)

// KeyType identifies which handler variant a container belongs to.
type KeyType byte

const (
	// KeyTypeHD marks a sealed hierarchical-deterministic seed.
	KeyTypeHD KeyType = 0x01
	// KeyTypeEd25519 marks a sealed single Ed25519 key.
	KeyTypeEd25519 KeyType = 0x02
)

// Valid reports whether the key type is one this implementation understands.
func (k KeyType) Valid() bool {
	return k == KeyTypeHD || k == KeyTypeEd25519
}

func (k KeyType) String() string {
	switch k {
	case KeyTypeHD:
		return "hd"
	case KeyTypeEd25519:
		return "ed25519"
	default:
		return fmt.Sprintf("keytype(0x%02x)", byte(k))
	}
}

// Container parsing errors, one per malformed-field class.
var (
	ErrTruncated          = errors.New("keybox: container shorter than minimum size")
	ErrChecksumMismatch   = errors.New("keybox: checksum mismatch")
	ErrBadMagic           = errors.New("keybox: invalid magic number")
	ErrUnsupportedVersion = errors.New("keybox: unsupported version")
	ErrUnsupportedKeyType = errors.New("keybox: unsupported key type")
	ErrLengthMismatch     = errors.New("keybox: payload length mismatch")
)

// encodeContainer renders the wire format around a ciphertext payload.
func encodeContainer(keyType KeyType, payload []byte) []byte {
	buf := make([]byte, MinSize+len(payload))

	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = Version
	buf[5] = byte(keyType)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(payload)))
	copy(buf[headerSize:], payload)

	crc := crc32.ChecksumIEEE(buf[:headerSize+len(payload)])
	binary.BigEndian.PutUint32(buf[headerSize+len(payload):], crc)

	return buf
}

// decodeContainer validates the wire format and returns the key type and
// ciphertext payload. Checks run in a fixed order: truncation, checksum,
// magic, version, key type, declared length. The payload is not copied;
// callers own detaching it from the input buffer.
func decodeContainer(data []byte) (KeyType, []byte, error) {
	if len(data) < MinSize {
		return 0, nil, fmt.Errorf("%w: %d bytes, minimum %d", ErrTruncated, len(data), MinSize)
	}

	body := data[:len(data)-trailerSize]
	want := binary.BigEndian.Uint32(data[len(data)-trailerSize:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return 0, nil, fmt.Errorf("%w: computed 0x%08x, stored 0x%08x", ErrChecksumMismatch, got, want)
	}

	if magic := binary.BigEndian.Uint32(data[0:4]); magic != Magic {
		return 0, nil, fmt.Errorf("%w: 0x%08x", ErrBadMagic, magic)
	}

	if version := data[4]; version != Version {
		return 0, nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, version, Version)
	}

	keyType := KeyType(data[5])
	if !keyType.Valid() {
		return 0, nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedKeyType, data[5])
	}

	dataLen := binary.BigEndian.Uint32(data[6:10])
	payload := data[headerSize : len(data)-trailerSize]
	if int(dataLen) != len(payload) {
		return 0, nil, fmt.Errorf("%w: declared %d, actual %d", ErrLengthMismatch, dataLen, len(payload))
	}

	return keyType, payload, nil
}
