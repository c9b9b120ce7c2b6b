package crypto

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix is the human-readable part of a bech32 encoded address.
type AddressPrefix string

const (
	// PawnPrefix identifies principal addresses understood by the lending
	// ledger.
	PawnPrefix AddressPrefix = "pawn"
)

const addressLength = 20

// Address represents a 20-byte principal identifier with a bech32
// human-readable prefix. The zero value is invalid; construct addresses via
// NewAddress or DecodeAddress.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

// NewAddress wraps the raw 20-byte payload with the supplied prefix. The
// payload is copied so callers cannot mutate the address afterwards.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != addressLength {
		return Address{}, fmt.Errorf("address payload must be %d bytes, got %d", addressLength, len(b))
	}
	cloned := append([]byte(nil), b...)
	return Address{prefix: prefix, bytes: cloned}, nil
}

// MustAddress is a NewAddress variant that panics on malformed input. Intended
// for tests and static initialisers.
func MustAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

// String renders the bech32 encoding of the address.
func (a Address) String() string {
	if len(a.bytes) == 0 {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		return ""
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		return ""
	}
	return encoded
}

// Bytes returns a copy of the raw payload.
func (a Address) Bytes() []byte {
	if len(a.bytes) == 0 {
		return nil
	}
	return append([]byte(nil), a.bytes...)
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix { return a.prefix }

// IsZero reports whether the address carries no payload or an all-zero one.
func (a Address) IsZero() bool {
	if len(a.bytes) == 0 {
		return true
	}
	for _, b := range a.bytes {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal compares two addresses by payload, ignoring the prefix.
func (a Address) Equal(other Address) bool {
	return bytes.Equal(a.bytes, other.bytes)
}

// DecodeAddress parses a bech32 encoded address string.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}
