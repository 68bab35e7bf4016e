// Package cellreq builds 6P cell reservation requests.
//
// A ReserveCell command names a neighbor by address suffix. The builder
// derives the neighbor's link-layer address, asks the scheduling layer for
// a candidate cell list and submits an ADD request to the link-establishment
// (6top) layer. Requests are fire-and-forget: failures are reported to the
// caller and logged, never retried.
package cellreq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kabili207/whisper-go/core/addr"
	"github.com/kabili207/whisper-go/core/codec"
)

const (
	// MaxCellListLen is the maximum number of cells carried in one request.
	MaxCellListLen = 5
	// NumCandidateCells is the number of cells sampled and requested.
	NumCandidateCells = 1
)

// Operation is a 6P command code.
type Operation uint8

const (
	OpAdd    Operation = 0x01
	OpDelete Operation = 0x02
)

func (o Operation) String() string {
	switch o {
	case OpAdd:
		return "ADD"
	case OpDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("op(0x%02x)", uint8(o))
	}
}

// CellOptions is the 6P cell options bitmap.
type CellOptions uint8

const (
	CellOptionTX     CellOptions = 0x01
	CellOptionRX     CellOptions = 0x02
	CellOptionShared CellOptions = 0x04
)

var (
	ErrNoCandidates  = errors.New("scheduler returned no candidate cells")
	ErrTooManyCells  = errors.New("candidate list exceeds maximum length")
	ErrNotConfigured = errors.New("scheduler and requester are required")
)

// Cell is a (slot offset, channel offset) pair in the slotframe.
type Cell struct {
	SlotOffset    uint16
	ChannelOffset uint16
}

// Request is a 6P request as submitted to the link-establishment layer.
type Request struct {
	Operation   Operation
	Neighbor    addr.Address
	NumCells    uint8
	CellOptions CellOptions
	Cells       []Cell
	SFID        uint8
}

// Scheduler is the scheduling layer. CandidateCells samples up to n free
// cells that do not conflict with the current schedule.
type Scheduler interface {
	CandidateCells(n int) ([]Cell, error)
	SFID() uint8
}

// Requester is the link-establishment layer.
type Requester interface {
	SendCellRequest(ctx context.Context, req Request) error
}

// Config configures a Builder.
type Config struct {
	Identity  addr.Identity
	Scheduler Scheduler
	Requester Requester
	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Builder turns ReserveCell commands into submitted 6P requests.
type Builder struct {
	cfg Config
	log *slog.Logger
}

// New creates a Builder.
func New(cfg Config) *Builder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cfg: cfg, log: logger.WithGroup("cellreq")}
}

// Build assembles the request for cmd without submitting it.
func (b *Builder) Build(cmd codec.ReserveCell) (Request, error) {
	if b.cfg.Scheduler == nil {
		return Request{}, ErrNotConfigured
	}

	neighbor := addr.Build(b.cfg.Identity, cmd.TargetSuffix).LinkLayer()

	cells, err := b.cfg.Scheduler.CandidateCells(NumCandidateCells)
	if err != nil {
		return Request{}, fmt.Errorf("sampling candidate cells: %w", err)
	}
	if len(cells) == 0 {
		return Request{}, ErrNoCandidates
	}
	if len(cells) > MaxCellListLen {
		return Request{}, fmt.Errorf("%w: %d > %d", ErrTooManyCells, len(cells), MaxCellListLen)
	}

	return Request{
		Operation:   OpAdd,
		Neighbor:    neighbor,
		NumCells:    NumCandidateCells,
		CellOptions: CellOptionTX,
		Cells:       cells,
		SFID:        b.cfg.Scheduler.SFID(),
	}, nil
}

// Reserve builds the request for cmd and submits it once.
func (b *Builder) Reserve(ctx context.Context, cmd codec.ReserveCell) (Request, error) {
	if b.cfg.Requester == nil {
		return Request{}, ErrNotConfigured
	}

	req, err := b.Build(cmd)
	if err != nil {
		b.log.Warn("sixtop request not sent", "error", err)
		return req, err
	}

	if err := b.cfg.Requester.SendCellRequest(ctx, req); err != nil {
		b.log.Warn("sixtop request not sent", "neighbor", req.Neighbor, "error", err)
		return req, fmt.Errorf("submitting 6P request: %w", err)
	}

	b.log.Info("sixtop request sent",
		"neighbor", req.Neighbor,
		"cells", len(req.Cells),
		"sfid", req.SFID,
	)
	return req, nil
}
