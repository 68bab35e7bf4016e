package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameType identifies the contents of a frame.
type FrameType uint8

const (
	// FrameTypeRequest carries a controller request to the root.
	FrameTypeRequest FrameType = 0x01
	// FrameTypeResponse carries the root's response back to the controller.
	FrameTypeResponse FrameType = 0x02
	// FrameTypeInjectDIO asks the radio to emit a routing advertisement.
	FrameTypeInjectDIO FrameType = 0x10
	// FrameTypeCellRequest asks the radio to start a 6P ADD transaction.
	FrameTypeCellRequest FrameType = 0x11
	// FrameTypeAckEvent reports a received link-layer acknowledgment.
	FrameTypeAckEvent FrameType = 0x12
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeRequest:
		return "request"
	case FrameTypeResponse:
		return "response"
	case FrameTypeInjectDIO:
		return "inject-dio"
	case FrameTypeCellRequest:
		return "cell-request"
	case FrameTypeAckEvent:
		return "ack-event"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

const (
	// FrameHeaderSize is type(1) + flags(1) + token(2).
	FrameHeaderSize = 4
	// TagSize is the size of the authentication tag on signed frames.
	TagSize = 4

	// FlagSigned marks a frame that ends in an authentication tag.
	FlagSigned uint8 = 0x01
)

var (
	ErrFrameTooShort = errors.New("frame too short")
)

// Frame is the unit exchanged over every transport.
//
// Layout: [type][flags][token BE16][payload][tag(4) if FlagSigned]
type Frame struct {
	Type    FrameType
	Flags   uint8
	Token   uint16
	Payload []byte
	Tag     [TagSize]byte
}

// Signed reports whether the frame carries an authentication tag.
func (f *Frame) Signed() bool {
	return f.Flags&FlagSigned != 0
}

// AuthenticatedBytes returns the header and payload, the bytes covered by
// the authentication tag. The signed flag is always set in the returned
// header so signing and verifying see the same input.
func (f *Frame) AuthenticatedBytes() []byte {
	out := make([]byte, FrameHeaderSize+len(f.Payload))
	out[0] = byte(f.Type)
	out[1] = f.Flags | FlagSigned
	binary.BigEndian.PutUint16(out[2:4], f.Token)
	copy(out[FrameHeaderSize:], f.Payload)
	return out
}

// Encode serializes the frame.
func (f *Frame) Encode() []byte {
	n := FrameHeaderSize + len(f.Payload)
	if f.Signed() {
		n += TagSize
	}
	out := make([]byte, n)
	out[0] = byte(f.Type)
	out[1] = f.Flags
	binary.BigEndian.PutUint16(out[2:4], f.Token)
	copy(out[FrameHeaderSize:], f.Payload)
	if f.Signed() {
		copy(out[n-TagSize:], f.Tag[:])
	}
	return out
}

// DecodeFrame parses a serialized frame.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < FrameHeaderSize {
		return nil, fmt.Errorf("%w: expected at least %d bytes, got %d",
			ErrFrameTooShort, FrameHeaderSize, len(data))
	}

	f := &Frame{
		Type:  FrameType(data[0]),
		Flags: data[1],
		Token: binary.BigEndian.Uint16(data[2:4]),
	}

	body := data[FrameHeaderSize:]
	if f.Signed() {
		if len(body) < TagSize {
			return nil, fmt.Errorf("%w: signed frame missing tag", ErrFrameTooShort)
		}
		copy(f.Tag[:], body[len(body)-TagSize:])
		body = body[:len(body)-TagSize]
	}

	f.Payload = make([]byte, len(body))
	copy(f.Payload, body)
	return f, nil
}
