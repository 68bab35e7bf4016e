package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// SerialMagic starts every frame on the serial link ("WS").
	SerialMagic uint16 = 0x5753
	// MaxSerialPayload is the largest frame carried in one serial envelope.
	MaxSerialPayload = 256
	// SerialHeaderSize is magic(2) + length(2).
	SerialHeaderSize = 4
	// SerialChecksumSize is the trailing Fletcher-16 checksum size.
	SerialChecksumSize = 2
	// MinSerialSize is the smallest well-formed envelope.
	MinSerialSize = SerialHeaderSize + SerialChecksumSize
)

var (
	ErrEnvelopeTooShort   = errors.New("serial envelope too short")
	ErrInvalidMagic       = errors.New("invalid serial magic")
	ErrPayloadTooLarge    = errors.New("payload exceeds maximum size")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrIncompleteEnvelope = errors.New("incomplete serial envelope")
)

// DecodeSerialEnvelope extracts one envelope payload from data and returns
// the bytes that follow it.
//
// Layout: [magic BE16][length BE16][payload][fletcher16 BE16]
func DecodeSerialEnvelope(data []byte) ([]byte, []byte, error) {
	if len(data) < MinSerialSize {
		return nil, data, ErrEnvelopeTooShort
	}
	if binary.BigEndian.Uint16(data[0:2]) != SerialMagic {
		return nil, data, ErrInvalidMagic
	}

	n := int(binary.BigEndian.Uint16(data[2:4]))
	if n > MaxSerialPayload {
		return nil, data, ErrPayloadTooLarge
	}

	total := SerialHeaderSize + n + SerialChecksumSize
	if len(data) < total {
		return nil, data, ErrIncompleteEnvelope
	}

	body := data[SerialHeaderSize : SerialHeaderSize+n]
	sum := binary.BigEndian.Uint16(data[SerialHeaderSize+n : total])
	if !ValidateChecksum(body, sum) {
		return nil, data, fmt.Errorf("%w: expected %04x, got %04x",
			ErrChecksumMismatch, Fletcher16(body), sum)
	}

	payload := make([]byte, n)
	copy(payload, body)
	return payload, data[total:], nil
}

// EncodeSerialEnvelope wraps payload for the serial link.
func EncodeSerialEnvelope(payload []byte) ([]byte, error) {
	if len(payload) > MaxSerialPayload {
		return nil, ErrPayloadTooLarge
	}

	out := make([]byte, SerialHeaderSize+len(payload)+SerialChecksumSize)
	binary.BigEndian.PutUint16(out[0:2], SerialMagic)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[SerialHeaderSize:], payload)
	binary.BigEndian.PutUint16(out[SerialHeaderSize+len(payload):], Fletcher16(payload))
	return out, nil
}
