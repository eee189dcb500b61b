// Package derivation defines the hierarchical-deterministic path model used
// by the key handlers.
//
// An account-level path is the hardened triple m/purpose'/coinType'/account'.
// A full path extends it with a non-hardened role and address index,
// m/purpose'/coinType'/account'/role/index, following the CIP-1852 scheme
// with the CIP-105 governance roles.
package derivation

import (
	"errors"
	"fmt"
)

// HardenedOffset marks a path component as hardened when added to it.
const HardenedOffset uint32 = 0x80000000

// Scheme constants for Cardano accounts.
const (
	PurposeCIP1852 uint32 = 1852
	CoinTypeADA    uint32 = 1815
)

var (
	ErrAlreadyHardened = errors.New("derivation: component already in hardened range")
	ErrNotHardened     = errors.New("derivation: account component not hardened")
	ErrInvalidRole     = errors.New("derivation: invalid role")
	ErrMalformedPath   = errors.New("derivation: malformed path")
)

// Harden returns n + HardenedOffset. It fails with ErrAlreadyHardened when n
// is already in the hardened range, where the addition would wrap the 32-bit
// index space; hardening is never applied twice.
func Harden(n uint32) (uint32, error) {
	if n >= HardenedOffset {
		return 0, fmt.Errorf("%w: %d", ErrAlreadyHardened, n)
	}
	return n + HardenedOffset, nil
}

// MustHarden is Harden for statically known components; it panics on overflow.
func MustHarden(n uint32) uint32 {
	h, err := Harden(n)
	if err != nil {
		panic(err)
	}
	return h
}

// IsHardened reports whether a path component is in the hardened range.
func IsHardened(n uint32) bool {
	return n >= HardenedOffset
}

// Role selects the key chain below an account.
type Role uint32

// Chain roles. External and Internal address payment keys, Staking the stake
// key, and the remaining roles the CIP-105 governance keys.
const (
	External      Role = 0
	Internal      Role = 1
	Staking       Role = 2
	DRep          Role = 3
	CommitteeCold Role = 4
	CommitteeHot  Role = 5
)

// Valid reports whether the role is one of the defined chain roles.
func (r Role) Valid() bool {
	return r <= CommitteeHot
}

func (r Role) String() string {
	switch r {
	case External:
		return "external"
	case Internal:
		return "internal"
	case Staking:
		return "staking"
	case DRep:
		return "drep"
	case CommitteeCold:
		return "committee-cold"
	case CommitteeHot:
		return "committee-hot"
	default:
		return fmt.Sprintf("role(%d)", uint32(r))
	}
}

// Account is an account-level derivation path. All three fields hold
// hardened component values.
type Account struct {
	Purpose  uint32
	CoinType uint32
	Index    uint32
}

// NewAccount hardens the three raw components into an account path.
func NewAccount(purpose, coinType, account uint32) (Account, error) {
	p, err := Harden(purpose)
	if err != nil {
		return Account{}, err
	}
	c, err := Harden(coinType)
	if err != nil {
		return Account{}, err
	}
	a, err := Harden(account)
	if err != nil {
		return Account{}, err
	}
	return Account{Purpose: p, CoinType: c, Index: a}, nil
}

// CIP1852Account returns the account path m/1852'/1815'/account'.
func CIP1852Account(account uint32) (Account, error) {
	return NewAccount(PurposeCIP1852, CoinTypeADA, account)
}

// Components returns the ordered hardened components fed to the derivation
// primitive one level at a time.
func (a Account) Components() []uint32 {
	return []uint32{a.Purpose, a.CoinType, a.Index}
}

// Validate checks that every component is hardened. The model imposes no
// other constraint; components must arrive already hardened.
func (a Account) Validate() error {
	for _, c := range a.Components() {
		if !IsHardened(c) {
			return fmt.Errorf("%w: %d", ErrNotHardened, c)
		}
	}
	return nil
}

// Path is a full five-level derivation path: a hardened account plus a
// non-hardened role and address index.
type Path struct {
	Account Account
	Role    Role
	Index   uint32
}

// Components returns the flat ordered sequence
// [purpose, coinType, account, role, index].
func (p Path) Components() []uint32 {
	return []uint32{
		p.Account.Purpose,
		p.Account.CoinType,
		p.Account.Index,
		uint32(p.Role),
		p.Index,
	}
}

// Validate checks the account components are hardened, the role is defined,
// and the role and index are not hardened.
func (p Path) Validate() error {
	if err := p.Account.Validate(); err != nil {
		return err
	}
	if !p.Role.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRole, uint32(p.Role))
	}
	if IsHardened(p.Index) {
		return fmt.Errorf("%w: index %d", ErrAlreadyHardened, p.Index)
	}
	return nil
}
