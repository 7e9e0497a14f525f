package domain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ZeroAddress is how the ledger represents an absent owner or processor.
const ZeroAddress = "0x0"

// ParseFelt parses a field element encoded either as 0x-prefixed hex or as a decimal string.
func ParseFelt(raw string) (*big.Int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, fmt.Errorf("empty field element")
	}
	n := new(big.Int)
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "0x") {
		digits := lower[2:]
		if digits == "" {
			return n, nil
		}
		if _, ok := n.SetString(digits, 16); !ok {
			return nil, fmt.Errorf("invalid hex field element %q", raw)
		}
		return n, nil
	}
	if _, ok := n.SetString(value, 10); !ok {
		return nil, fmt.Errorf("invalid field element %q", raw)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative field element %q", raw)
	}
	return n, nil
}

// FeltUint64 parses a field element that must fit an unsigned 64-bit integer.
func FeltUint64(raw string) (uint64, error) {
	n, err := ParseFelt(raw)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("field element %q overflows uint64", raw)
	}
	return n.Uint64(), nil
}

// NormalizeAddress returns the canonical form of a ledger address: lower-case hex,
// no leading zeros, "0x0" for zero or empty input. Unparseable input is returned
// trimmed and lower-cased so comparisons stay stable.
func NormalizeAddress(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return ZeroAddress
	}
	n, err := ParseFelt(value)
	if err != nil {
		return value
	}
	if n.Sign() == 0 {
		return ZeroAddress
	}
	return "0x" + n.Text(16)
}

// IsZeroAddress reports whether raw denotes the absent address.
func IsZeroAddress(raw string) bool {
	return NormalizeAddress(raw) == ZeroAddress
}

// SameAddress compares two addresses by canonical form.
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// EntityKey is the canonical string form of an entity identifier.
func EntityKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// UniqueIDs collapses repeated identifiers to their first occurrence, keeping order.
func UniqueIDs(ids []uint64) []uint64 {
	if len(ids) == 0 {
		return []uint64{}
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		key := EntityKey(id)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, id)
	}
	return out
}
