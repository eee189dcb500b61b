// Package security provides memory and file hygiene helpers for keybox.
//
// This package implements:
// - Secure memory wiping (prevents key recovery from memory)
// - Memory locking (prevents swapping of sensitive data)
// - Constant-time comparisons (prevents timing attacks)
// - Atomic file writes with secret-safe permissions
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"runtime"
	"unsafe"
)

// Wipe overwrites a byte slice with zeros.
// Uses an explicit loop so the writes are not optimized away.
func Wipe(data []byte) {
	wipeBytes(data)
}

// wipeBytes is the internal implementation of Wipe.
func wipeBytes(data []byte) {
	if len(data) == 0 {
		return
	}

	for i := range data {
		data[i] = 0
	}

	// Memory barrier to ensure writes complete
	runtime.KeepAlive(data)
}

// WipeString overwrites a string's underlying bytes with zeros.
// Warning: This only works for strings backed by mutable memory.
// It will not work for string literals or compiler-optimized strings.
func WipeString(s *string) {
	if s == nil || len(*s) == 0 {
		return
	}

	data := unsafe.Slice(unsafe.StringData(*s), len(*s))
	wipeBytes(data)
}

// ConstantTimeCompare compares two byte slices in constant time.
// Returns true if they are equal, false otherwise.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GuardedExec executes a function with automatic key cleanup.
// The provided key is wiped after the function returns, regardless of errors.
func GuardedExec(key []byte, fn func([]byte) error) error {
	defer Wipe(key)
	return fn(key)
}

// GuardedSecure executes a function with SecureBytes cleanup.
func GuardedSecure(sb *SecureBytes, fn func(*SecureBytes) error) error {
	defer sb.Destroy()
	return fn(sb)
}

// GenerateRandom returns size cryptographically secure random bytes.
func GenerateRandom(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("security: invalid random size %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("security: gather entropy: %w", err)
	}
	return buf, nil
}
