package stack

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kabili207/whisper-go/core/addr"
	"github.com/kabili207/whisper-go/core/cellreq"
	"github.com/kabili207/whisper-go/core/codec"
	"github.com/kabili207/whisper-go/core/spoof"
	"github.com/kabili207/whisper-go/transport"
)

const (
	// InjectDIOSize is target(16) + parent(16) + next hop(16) + rank(2).
	InjectDIOSize = 3*addr.FullSize + 2

	// cellRequestHeaderSize is op, neighbor(8), num cells, options, sfid, count.
	cellRequestHeaderSize = 1 + addr.EUI64Size + 4
	cellSize              = 4
)

var (
	ErrRadioDown          = errors.New("radio link not connected")
	ErrMalformedPrimitive = errors.New("malformed radio primitive")
)

// Compile-time interface checks.
var (
	_ spoof.Injector    = (*Bridge)(nil)
	_ cellreq.Requester = (*Bridge)(nil)
)

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	// Transport is the link to the root mote.
	Transport transport.Transport
	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Bridge hands forged DIOs and 6P requests to the root mote. Both are fire
// and forget: a nil error means the frame was written to the link, not that
// the mote transmitted it.
type Bridge struct {
	cfg BridgeConfig
	log *slog.Logger

	mu    sync.Mutex
	token uint16
}

// NewBridge creates a Bridge over cfg.Transport.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, log: logger.WithGroup("bridge")}
}

// InjectDIO sends adv to the mote's routing layer.
func (b *Bridge) InjectDIO(ctx context.Context, adv spoof.Advertisement) error {
	payload, err := EncodeInjectDIO(adv)
	if err != nil {
		return err
	}
	return b.send(ctx, codec.FrameTypeInjectDIO, payload)
}

// SendCellRequest sends req to the mote's 6top layer. The mote's result is
// never reported back, so the candidate cells stay free in the schedule.
func (b *Bridge) SendCellRequest(ctx context.Context, req cellreq.Request) error {
	payload, err := EncodeCellRequest(req)
	if err != nil {
		return err
	}
	return b.send(ctx, codec.FrameTypeCellRequest, payload)
}

func (b *Bridge) send(ctx context.Context, typ codec.FrameType, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.cfg.Transport.IsConnected() {
		return ErrRadioDown
	}

	b.mu.Lock()
	b.token++
	token := b.token
	b.mu.Unlock()

	f := &codec.Frame{Type: typ, Token: token, Payload: payload}
	if err := b.cfg.Transport.SendFrame(f); err != nil {
		return fmt.Errorf("sending %s: %w", typ, err)
	}
	b.log.Debug("primitive sent", "type", typ.String(), "token", token, "len", len(payload))
	return nil
}

func fullBytes(a addr.Address) ([addr.FullSize]byte, error) {
	var out [addr.FullSize]byte
	if a.Type() != addr.TypeFull {
		return out, fmt.Errorf("%w: expected full address, got %s", ErrMalformedPrimitive, a.Type())
	}
	copy(out[:], a.Bytes())
	return out, nil
}

// EncodeInjectDIO serialises adv as [target][parent][next hop][rank BE16].
func EncodeInjectDIO(adv spoof.Advertisement) ([]byte, error) {
	out := make([]byte, InjectDIOSize)
	for i, a := range []addr.Address{adv.Target, adv.Parent, adv.NextHop} {
		b, err := fullBytes(a)
		if err != nil {
			return nil, err
		}
		copy(out[i*addr.FullSize:], b[:])
	}
	binary.BigEndian.PutUint16(out[3*addr.FullSize:], adv.Rank)
	return out, nil
}

// DecodeInjectDIO parses an InjectDIO payload.
func DecodeInjectDIO(data []byte) (spoof.Advertisement, error) {
	if len(data) != InjectDIOSize {
		return spoof.Advertisement{}, fmt.Errorf("%w: inject DIO is %d bytes, want %d",
			ErrMalformedPrimitive, len(data), InjectDIOSize)
	}
	var addrs [3]addr.Address
	for i := range addrs {
		var b [addr.FullSize]byte
		copy(b[:], data[i*addr.FullSize:])
		addrs[i] = addr.Full(b)
	}
	return spoof.Advertisement{
		Target:  addrs[0],
		Parent:  addrs[1],
		NextHop: addrs[2],
		Rank:    binary.BigEndian.Uint16(data[3*addr.FullSize:]),
	}, nil
}

// EncodeCellRequest serialises req as
// [op][neighbor EUI-64][num cells][options][sfid][count]{[slot BE16][channel BE16]}.
func EncodeCellRequest(req cellreq.Request) ([]byte, error) {
	if req.Neighbor.Type() != addr.TypeEUI64 {
		return nil, fmt.Errorf("%w: neighbor must be EUI-64, got %s", ErrMalformedPrimitive, req.Neighbor.Type())
	}
	if len(req.Cells) > cellreq.MaxCellListLen {
		return nil, fmt.Errorf("%w: %d cells", cellreq.ErrTooManyCells, len(req.Cells))
	}

	out := make([]byte, cellRequestHeaderSize+cellSize*len(req.Cells))
	out[0] = byte(req.Operation)
	copy(out[1:], req.Neighbor.Bytes())
	i := 1 + addr.EUI64Size
	out[i] = req.NumCells
	out[i+1] = byte(req.CellOptions)
	out[i+2] = req.SFID
	out[i+3] = uint8(len(req.Cells))

	off := cellRequestHeaderSize
	for _, c := range req.Cells {
		binary.BigEndian.PutUint16(out[off:], c.SlotOffset)
		binary.BigEndian.PutUint16(out[off+2:], c.ChannelOffset)
		off += cellSize
	}
	return out, nil
}

// DecodeCellRequest parses a CellRequest payload.
func DecodeCellRequest(data []byte) (cellreq.Request, error) {
	if len(data) < cellRequestHeaderSize {
		return cellreq.Request{}, fmt.Errorf("%w: cell request is %d bytes", ErrMalformedPrimitive, len(data))
	}
	i := 1 + addr.EUI64Size
	count := int(data[i+3])
	if count > cellreq.MaxCellListLen {
		return cellreq.Request{}, fmt.Errorf("%w: %d cells", cellreq.ErrTooManyCells, count)
	}
	if len(data) != cellRequestHeaderSize+count*cellSize {
		return cellreq.Request{}, fmt.Errorf("%w: %d bytes for %d cells", ErrMalformedPrimitive, len(data), count)
	}

	var eui [addr.EUI64Size]byte
	copy(eui[:], data[1:])

	req := cellreq.Request{
		Operation:   cellreq.Operation(data[0]),
		Neighbor:    addr.EUI64(eui),
		NumCells:    data[i],
		CellOptions: cellreq.CellOptions(data[i+1]),
		SFID:        data[i+2],
		Cells:       make([]cellreq.Cell, count),
	}
	off := cellRequestHeaderSize
	for k := range req.Cells {
		req.Cells[k] = cellreq.Cell{
			SlotOffset:    binary.BigEndian.Uint16(data[off:]),
			ChannelOffset: binary.BigEndian.Uint16(data[off+2:]),
		}
		off += cellSize
	}
	return req, nil
}

// EncodeAckEvent builds the frame the mote sends for a received ACK.
func EncodeAckEvent(src addr.Address) *codec.Frame {
	return &codec.Frame{Type: codec.FrameTypeAckEvent, Payload: src.Bytes()}
}
