package derivation

import (
	"fmt"
	"strconv"
	"strings"
)

// String renders the account path in the usual notation, e.g. m/1852'/1815'/0'.
func (a Account) String() string {
	return "m/" + formatComponent(a.Purpose) +
		"/" + formatComponent(a.CoinType) +
		"/" + formatComponent(a.Index)
}

// String renders the full path, e.g. m/1852'/1815'/0'/2/0.
func (p Path) String() string {
	return p.Account.String() +
		"/" + formatComponent(uint32(p.Role)) +
		"/" + formatComponent(p.Index)
}

func formatComponent(c uint32) string {
	if IsHardened(c) {
		return strconv.FormatUint(uint64(c-HardenedOffset), 10) + "'"
	}
	return strconv.FormatUint(uint64(c), 10)
}

// ParseAccount parses an account-level path of the form m/1852'/1815'/0'.
// All three components must be hardened.
func ParseAccount(s string) (Account, error) {
	comps, err := splitPath(s, 3)
	if err != nil {
		return Account{}, err
	}

	acct := Account{Purpose: comps[0], CoinType: comps[1], Index: comps[2]}
	if err := acct.Validate(); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// ParsePath parses a full five-level path of the form m/1852'/1815'/0'/0/0.
// The account components must be hardened; role and index must not be.
func ParsePath(s string) (Path, error) {
	comps, err := splitPath(s, 5)
	if err != nil {
		return Path{}, err
	}

	path := Path{
		Account: Account{Purpose: comps[0], CoinType: comps[1], Index: comps[2]},
		Role:    Role(comps[3]),
		Index:   comps[4],
	}
	if err := path.Validate(); err != nil {
		return Path{}, err
	}
	return path, nil
}

// ParseRole resolves a role name or numeric value to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "external", "payment":
		return External, nil
	case "internal", "change":
		return Internal, nil
	case "staking", "stake":
		return Staking, nil
	case "drep":
		return DRep, nil
	case "committee-cold", "cc-cold":
		return CommitteeCold, nil
	case "committee-hot", "cc-hot":
		return CommitteeHot, nil
	}

	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil || !Role(n).Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return Role(n), nil
}

// splitPath parses "m/a/b/..." into exactly want components, applying the
// hardening offset for the ' and h suffixes.
func splitPath(s string, want int) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("%w: %q must start with m/", ErrMalformedPath, s)
	}
	parts = parts[1:]
	if len(parts) != want {
		return nil, fmt.Errorf("%w: %q has %d components, want %d",
			ErrMalformedPath, s, len(parts), want)
	}

	comps := make([]uint32, len(parts))
	for i, part := range parts {
		hardened := false
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") || strings.HasSuffix(part, "H") {
			hardened = true
			part = part[:len(part)-1]
		}

		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: component %q", ErrMalformedPath, parts[i])
		}

		comp := uint32(n)
		if hardened {
			comp, err = Harden(comp)
			if err != nil {
				return nil, err
			}
		}
		comps[i] = comp
	}
	return comps, nil
}
