// Package crypto provides the address and signing primitives shared across
// the lending coordinator. Account and oracle publisher identifiers are
// represented as bech32-encoded 20-byte addresses, the same scheme used
// elsewhere in the pool's parent chain; reserve asset ids are the separate
// 32-byte types.AssetID.
package crypto

import (
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix distinguishes the human-readable namespace an Address belongs
// to (a reserve's asset identifier vs. a user/liquidator account).
type AddressPrefix string

const (
	// AssetPrefix namespaces reserve asset identifiers.
	AssetPrefix AddressPrefix = "asset"
	// AccountPrefix namespaces user and liquidator accounts.
	AccountPrefix AddressPrefix = "acct"
	// PublisherPrefix namespaces oracle publisher identities.
	PublisherPrefix AddressPrefix = "pub"
)

// Address is an opaque 20-byte identifier rendered with a namespace prefix.
// User accounts and oracle publishers are Addresses (reserve asset ids are
// types.AssetID); the prefix only affects display, not equality. bytes is a fixed-size array
// (not a slice) so Address stays comparable and usable as a map key, the way
// the oracle publisher whitelist and the coordinator's position indices
// require.
type Address struct {
	prefix AddressPrefix
	bytes  [20]byte
	set    bool
}

// NewAddress constructs an Address from exactly 20 raw bytes.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("crypto: address must be 20 bytes, got %d", len(b))
	}
	var arr [20]byte
	copy(arr[:], b)
	return Address{prefix: prefix, bytes: arr, set: true}, nil
}

// MustNewAddress constructs an Address and panics on invalid input. Reserved
// for compile-time-known identifiers (tests, genesis wiring).
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

// IsZero reports whether the address has no backing bytes.
func (a Address) IsZero() bool {
	return !a.set
}

// String renders the address using bech32 with the configured prefix.
func (a Address) String() string {
	if !a.set {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a defensive copy of the address's raw bytes.
func (a Address) Bytes() []byte {
	return append([]byte(nil), a.bytes[:]...)
}

// Prefix returns the address's display namespace.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// Equal reports whether two addresses reference the same underlying bytes,
// ignoring the display prefix.
func (a Address) Equal(other Address) bool {
	return a.set == other.set && a.bytes == other.bytes
}

// DecodeAddress parses a bech32-encoded address string.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}
