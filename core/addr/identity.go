package addr

// Identity is the local node's own address material: its network prefix
// and its EUI-64 interface identifier.
type Identity struct {
	Prefix [PrefixSize]byte
	EUI    [EUI64Size]byte
}

// Self returns the node's own full address.
func (id Identity) Self() Address {
	var b [FullSize]byte
	copy(b[:PrefixSize], id.Prefix[:])
	copy(b[PrefixSize:], id.EUI[:])
	return Full(b)
}

// ShortID returns the last two bytes of the EUI-64 as a short address.
func (id Identity) ShortID() Address {
	return Short([ShortSize]byte{id.EUI[6], id.EUI[7]})
}

// IsMine reports whether a belongs to this node in any of its forms.
func (id Identity) IsMine(a Address) bool {
	switch a.typ {
	case TypeShort:
		return a == id.ShortID()
	case TypeEUI64:
		return a == EUI64(id.EUI)
	case TypeFull:
		return a == id.Self()
	default:
		return false
	}
}

// Build derives another node's full address from the local identity: the
// first 14 bytes are the local prefix and interface identifier, the last
// two are the supplied suffix.
func Build(id Identity, suffix [SuffixSize]byte) Address {
	b := id.Self().b
	b[FullSize-2] = suffix[0]
	b[FullSize-1] = suffix[1]
	return Full(b)
}
