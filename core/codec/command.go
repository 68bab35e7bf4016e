package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// CommandMarker is written at offset 0 of encoded commands. Decoders
	// do not interpret it.
	CommandMarker = 0xFF

	// DiscriminantSpoofDio selects the forged DIO command.
	DiscriminantSpoofDio = 0x01
	// DiscriminantReserveCell selects the 6P cell reservation command.
	DiscriminantReserveCell = 0x02

	// Field offsets within a command payload.
	offDiscriminant = 1
	offTarget       = 2
	offParent       = 4
	offRank         = 8

	// SpoofDioSize is the minimum payload size of a spoof command.
	SpoofDioSize = offRank + 2
	// ReserveCellSize is the minimum payload size of a reserve command.
	ReserveCellSize = offTarget + 2
	// minCommandSize covers the marker and discriminant.
	minCommandSize = offDiscriminant + 1
)

var (
	ErrCommandTooShort = errors.New("command payload too short")
)

// Command is one decoded write command. The set of implementations is
// closed: SpoofDio, ReserveCell and NoOp.
type Command interface {
	// Discriminant returns the byte that selected this command.
	Discriminant() uint8
	command()
}

// SpoofDio asks the root to emit a forged routing advertisement.
type SpoofDio struct {
	TargetSuffix [2]byte
	ParentSuffix [2]byte
	Rank         uint16
}

// ReserveCell asks the root to start a 6P ADD with a neighbor.
type ReserveCell struct {
	TargetSuffix [2]byte
}

// NoOp is produced for unrecognized discriminants. It is not an error: the
// request is still acknowledged, nothing else happens.
type NoOp struct {
	Value uint8
}

func (SpoofDio) Discriminant() uint8    { return DiscriminantSpoofDio }
func (ReserveCell) Discriminant() uint8 { return DiscriminantReserveCell }
func (n NoOp) Discriminant() uint8      { return n.Value }

func (SpoofDio) command()    {}
func (ReserveCell) command() {}
func (NoOp) command()        {}

// DecodeCommand parses a write payload. Payloads too short for the layout
// selected by their discriminant return ErrCommandTooShort.
func DecodeCommand(data []byte) (Command, error) {
	if len(data) < minCommandSize {
		return nil, fmt.Errorf("%w: expected at least %d bytes, got %d",
			ErrCommandTooShort, minCommandSize, len(data))
	}

	switch d := data[offDiscriminant]; d {
	case DiscriminantSpoofDio:
		if len(data) < SpoofDioSize {
			return nil, fmt.Errorf("%w: spoof command needs %d bytes, got %d",
				ErrCommandTooShort, SpoofDioSize, len(data))
		}
		var cmd SpoofDio
		copy(cmd.TargetSuffix[:], data[offTarget:offTarget+2])
		copy(cmd.ParentSuffix[:], data[offParent:offParent+2])
		cmd.Rank = binary.BigEndian.Uint16(data[offRank : offRank+2])
		return cmd, nil

	case DiscriminantReserveCell:
		if len(data) < ReserveCellSize {
			return nil, fmt.Errorf("%w: reserve command needs %d bytes, got %d",
				ErrCommandTooShort, ReserveCellSize, len(data))
		}
		var cmd ReserveCell
		copy(cmd.TargetSuffix[:], data[offTarget:offTarget+2])
		return cmd, nil

	default:
		return NoOp{Value: d}, nil
	}
}

// EncodeSpoofDio builds the payload of a spoof command.
func EncodeSpoofDio(cmd SpoofDio) []byte {
	b := make([]byte, SpoofDioSize)
	b[0] = CommandMarker
	b[offDiscriminant] = DiscriminantSpoofDio
	copy(b[offTarget:], cmd.TargetSuffix[:])
	copy(b[offParent:], cmd.ParentSuffix[:])
	binary.BigEndian.PutUint16(b[offRank:], cmd.Rank)
	return b
}

// EncodeReserveCell builds the payload of a reserve command.
func EncodeReserveCell(cmd ReserveCell) []byte {
	b := make([]byte, ReserveCellSize)
	b[0] = CommandMarker
	b[offDiscriminant] = DiscriminantReserveCell
	copy(b[offTarget:], cmd.TargetSuffix[:])
	return b
}
