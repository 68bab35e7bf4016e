// Package stack adapts the root mote's network stack to the whisper
// processor: an in-memory TSCH schedule for candidate cell sampling and a
// bridge that carries routing and 6P primitives to the mote over a
// transport.
package stack

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/kabili207/whisper-go/core/cellreq"
)

const (
	// DefaultSlotframeLength is the MSF slotframe size.
	DefaultSlotframeLength = 101
	// DefaultNumChannels is the number of channel offsets in use.
	DefaultNumChannels = 16
	// DefaultSFID is the scheduling function identifier of MSF.
	DefaultSFID = 0
)

var (
	ErrScheduleFull   = errors.New("no free slot in slotframe")
	ErrSlotOccupied   = errors.New("slot already occupied")
	ErrCellOutOfRange = errors.New("cell outside slotframe")
)

// ScheduleConfig configures a Schedule.
type ScheduleConfig struct {
	// SlotframeLength is the number of timeslots. Default: 101.
	SlotframeLength uint16
	// NumChannels is the number of channel offsets. Default: 16.
	NumChannels uint16
	// SFID is reported with every 6P request.
	SFID uint8
	// Reserved lists slots the mote already uses for its own cells. They
	// are never offered as candidates.
	Reserved []uint16
	// Rand is the source for cell sampling. Nil uses a random seed.
	Rand *rand.Rand
	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Schedule tracks occupied slots of a single slotframe. Slot 0 is the
// minimal shared cell and is never handed out.
type Schedule struct {
	cfg ScheduleConfig
	log *slog.Logger

	mu       sync.Mutex
	rnd      *rand.Rand
	occupied map[uint16]cellreq.Cell
}

// Compile-time interface check.
var _ cellreq.Scheduler = (*Schedule)(nil)

// NewSchedule creates a schedule with only cfg.Reserved occupied.
func NewSchedule(cfg ScheduleConfig) *Schedule {
	if cfg.SlotframeLength == 0 {
		cfg.SlotframeLength = DefaultSlotframeLength
	}
	if cfg.NumChannels == 0 {
		cfg.NumChannels = DefaultNumChannels
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Schedule{
		cfg:      cfg,
		log:      logger.WithGroup("schedule"),
		rnd:      rnd,
		occupied: make(map[uint16]cellreq.Cell),
	}
	for _, slot := range cfg.Reserved {
		if err := s.Occupy(cellreq.Cell{SlotOffset: slot}); err != nil {
			s.log.Warn("ignoring reserved slot", "slot", slot, "error", err)
		}
	}
	return s
}

// CandidateCells samples up to n cells on distinct free slots with random
// channel offsets. It fails only when no slot is free.
func (s *Schedule) CandidateCells(n int) ([]cellreq.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	free := make([]uint16, 0, int(s.cfg.SlotframeLength)-1)
	for slot := uint16(1); slot < s.cfg.SlotframeLength; slot++ {
		if _, busy := s.occupied[slot]; !busy {
			free = append(free, slot)
		}
	}
	if len(free) == 0 {
		return nil, ErrScheduleFull
	}

	s.rnd.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })
	if n > len(free) {
		n = len(free)
	}

	cells := make([]cellreq.Cell, n)
	for i := range cells {
		cells[i] = cellreq.Cell{
			SlotOffset:    free[i],
			ChannelOffset: uint16(s.rnd.UintN(uint(s.cfg.NumChannels))),
		}
	}
	s.log.Debug("sampled candidate cells", "requested", n, "free", len(free))
	return cells, nil
}

// SFID returns the configured scheduling function identifier.
func (s *Schedule) SFID() uint8 {
	return s.cfg.SFID
}

// Occupy marks c's slot as used.
func (s *Schedule) Occupy(c cellreq.Cell) error {
	if c.SlotOffset == 0 || c.SlotOffset >= s.cfg.SlotframeLength || c.ChannelOffset >= s.cfg.NumChannels {
		return fmt.Errorf("%w: slot %d channel %d", ErrCellOutOfRange, c.SlotOffset, c.ChannelOffset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.occupied[c.SlotOffset]; busy {
		return fmt.Errorf("%w: slot %d", ErrSlotOccupied, c.SlotOffset)
	}
	s.occupied[c.SlotOffset] = c
	return nil
}

// Release frees slot. Releasing a free slot is a no-op.
func (s *Schedule) Release(slot uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.occupied, slot)
}

// Occupied returns the occupied cells ordered by slot offset.
func (s *Schedule) Occupied() []cellreq.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()

	cells := make([]cellreq.Cell, 0, len(s.occupied))
	for _, c := range s.occupied {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].SlotOffset < cells[j].SlotOffset })
	return cells
}
