// Package addr provides node addressing for the mesh: a tagged union over
// the 16-bit short, 64-bit EUI-64 and 128-bit full address forms, plus the
// helpers the root uses to derive addresses of other nodes from its own
// identity.
package addr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// ShortSize is the size of a 16-bit short address.
	ShortSize = 2
	// EUI64Size is the size of a link-layer (EUI-64) address.
	EUI64Size = 8
	// PrefixSize is the size of the network prefix.
	PrefixSize = 8
	// FullSize is the size of a full 128-bit network address.
	FullSize = 16
	// SuffixSize is the number of trailing bytes supplied by the caller
	// when deriving another node's address from the local identity.
	SuffixSize = 2
)

var (
	ErrInvalidLength = errors.New("invalid address length")
	ErrInvalidHex    = errors.New("invalid hex address")
)

// Type identifies which form an Address holds.
type Type uint8

const (
	TypeNone Type = iota
	TypeShort
	TypeEUI64
	TypeFull
)

func (t Type) String() string {
	switch t {
	case TypeShort:
		return "short"
	case TypeEUI64:
		return "eui64"
	case TypeFull:
		return "full"
	default:
		return "none"
	}
}

// Address is a node address. The active form is selected by Type; only the
// first Type.Size() bytes of the backing array are meaningful.
type Address struct {
	typ Type
	b   [FullSize]byte
}

// Size returns the number of address bytes for the type.
func (t Type) Size() int {
	switch t {
	case TypeShort:
		return ShortSize
	case TypeEUI64:
		return EUI64Size
	case TypeFull:
		return FullSize
	default:
		return 0
	}
}

// Short creates a 16-bit short address.
func Short(b [ShortSize]byte) Address {
	a := Address{typ: TypeShort}
	copy(a.b[:], b[:])
	return a
}

// EUI64 creates a 64-bit link-layer address.
func EUI64(b [EUI64Size]byte) Address {
	a := Address{typ: TypeEUI64}
	copy(a.b[:], b[:])
	return a
}

// Full creates a 128-bit network address.
func Full(b [FullSize]byte) Address {
	return Address{typ: TypeFull, b: b}
}

// FromBytes creates an address whose type is inferred from len(b).
func FromBytes(b []byte) (Address, error) {
	var a Address
	switch len(b) {
	case ShortSize:
		a.typ = TypeShort
	case EUI64Size:
		a.typ = TypeEUI64
	case FullSize:
		a.typ = TypeFull
	default:
		return a, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(b))
	}
	copy(a.b[:], b)
	return a, nil
}

// Type returns the address form.
func (a Address) Type() Type {
	return a.typ
}

// IsZero returns true if the address has no form.
func (a Address) IsZero() bool {
	return a.typ == TypeNone
}

// Bytes returns a copy of the meaningful address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, a.typ.Size())
	copy(out, a.b[:])
	return out
}

// Equal reports whether both addresses have the same type and bytes.
func (a Address) Equal(o Address) bool {
	return a == o
}

// LinkLayer converts the address to its EUI-64 form. A full address keeps
// its trailing interface identifier (bytes 8..15); an EUI-64 address is
// returned unchanged. Short and empty addresses have no EUI-64 form and
// yield the zero Address.
func (a Address) LinkLayer() Address {
	switch a.typ {
	case TypeEUI64:
		return a
	case TypeFull:
		var iid [EUI64Size]byte
		copy(iid[:], a.b[PrefixSize:FullSize])
		return EUI64(iid)
	default:
		return Address{}
	}
}

// String renders the address as colon-separated hex bytes.
func (a Address) String() string {
	if a.typ == TypeNone {
		return "<none>"
	}
	n := a.typ.Size()
	var sb strings.Builder
	sb.Grow(n * 3)
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02x", a.b[i])
	}
	return sb.String()
}

// ParseHex parses a hex string, optionally separated by ':' or '-', into
// exactly n bytes.
func ParseHex(s string, n int) ([]byte, error) {
	clean := strings.NewReplacer(":", "", "-", "", " ", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidHex, s, err)
	}
	if len(b) != n {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidLength, n, len(b))
	}
	return b, nil
}

// ParseSuffix parses a two-byte address suffix such as "00:05" or "0005".
func ParseSuffix(s string) ([SuffixSize]byte, error) {
	var suffix [SuffixSize]byte
	b, err := ParseHex(s, SuffixSize)
	if err != nil {
		return suffix, err
	}
	copy(suffix[:], b)
	return suffix, nil
}
