package codec

import (
	"errors"
	"fmt"
)

// Method is a request method, numbered like CoAP request codes.
type Method uint8

const (
	MethodGet    Method = 0x01
	MethodPost   Method = 0x02
	MethodPut    Method = 0x03
	MethodDelete Method = 0x04
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodPut:
		return "PUT"
	case MethodDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("method(0x%02x)", uint8(m))
	}
}

// Status is a response code, numbered like CoAP response codes
// (class << 5 | detail).
type Status uint8

const (
	StatusChanged          Status = 0x44 // 2.04
	StatusContent          Status = 0x45 // 2.05
	StatusBadRequest       Status = 0x80 // 4.00
	StatusUnauthorized     Status = 0x81 // 4.01
	StatusMethodNotAllowed Status = 0x85 // 4.05
)

// Success reports whether the status is in the 2.xx class.
func (s Status) Success() bool {
	return s>>5 == 2
}

func (s Status) String() string {
	return fmt.Sprintf("%d.%02d", uint8(s)>>5, uint8(s)&0x1F)
}

var (
	ErrNotRequest  = errors.New("frame is not a request")
	ErrNotResponse = errors.New("frame is not a response")
	ErrEmptyFrame  = errors.New("frame payload is empty")
)

// Request is a controller request addressed to the whisper resource.
type Request struct {
	Token   uint16
	Method  Method
	Payload []byte
}

// Response is the root's answer to a Request.
type Response struct {
	Token   uint16
	Status  Status
	Payload []byte
}

// Frame converts the request into a wire frame.
func (r *Request) Frame() *Frame {
	p := make([]byte, 1+len(r.Payload))
	p[0] = byte(r.Method)
	copy(p[1:], r.Payload)
	return &Frame{Type: FrameTypeRequest, Token: r.Token, Payload: p}
}

// ParseRequest extracts a Request from a frame.
func ParseRequest(f *Frame) (*Request, error) {
	if f.Type != FrameTypeRequest {
		return nil, fmt.Errorf("%w: got %s", ErrNotRequest, f.Type)
	}
	if len(f.Payload) < 1 {
		return nil, ErrEmptyFrame
	}
	return &Request{
		Token:   f.Token,
		Method:  Method(f.Payload[0]),
		Payload: f.Payload[1:],
	}, nil
}

// Frame converts the response into a wire frame.
func (r *Response) Frame() *Frame {
	p := make([]byte, 1+len(r.Payload))
	p[0] = byte(r.Status)
	copy(p[1:], r.Payload)
	return &Frame{Type: FrameTypeResponse, Token: r.Token, Payload: p}
}

// ParseResponse extracts a Response from a frame.
func ParseResponse(f *Frame) (*Response, error) {
	if f.Type != FrameTypeResponse {
		return nil, fmt.Errorf("%w: got %s", ErrNotResponse, f.Type)
	}
	if len(f.Payload) < 1 {
		return nil, ErrEmptyFrame
	}
	return &Response{
		Token:   f.Token,
		Status:  Status(f.Payload[0]),
		Payload: f.Payload[1:],
	}, nil
}
