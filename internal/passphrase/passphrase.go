// Package passphrase defines the passphrase source capability consumed by
// the encrypted key container, plus the providers shipped with keybox.
//
// A Source is invoked fresh on every decrypt. It must return a new buffer
// each call; the caller wipes that buffer after use, so a Source must never
// hand out memory it still needs.
package passphrase

import (
	"context"
	"errors"

	"keybox/internal/security"
)

var (
	ErrConfirmationMismatch = errors.New("passphrase: entries do not match")
	ErrSecretNotFound       = errors.New("passphrase: no matching secret")
	ErrCollectionLocked     = errors.New("passphrase: secret collection is locked")
	ErrNoTerminal           = errors.New("passphrase: no terminal available")
)

// Source supplies a sealing passphrase. Implementations may block on user
// interaction or secret-store I/O; ctx bounds that work.
type Source func(ctx context.Context) ([]byte, error)

// Static returns a Source backed by a retained copy of passphrase. The input
// buffer is wiped before Static returns; the retained copy lives in locked
// memory and every invocation returns a fresh copy of it.
func Static(passphrase []byte) (Source, error) {
	held, err := security.FromBytes(passphrase)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return held.Copy(), nil
	}, nil
}

// Confirmed wraps a Source so the passphrase is requested twice and both
// entries must match. Used when sealing new material, where a typo would
// create a container nobody can open.
func Confirmed(src Source) Source {
	return func(ctx context.Context) ([]byte, error) {
		first, err := src(ctx)
		if err != nil {
			return nil, err
		}

		second, err := src(ctx)
		if err != nil {
			security.Wipe(first)
			return nil, err
		}
		defer security.Wipe(second)

		if !security.ConstantTimeCompare(first, second) {
			security.Wipe(first)
			return nil, ErrConfirmationMismatch
		}
		return first, nil
	}
}
