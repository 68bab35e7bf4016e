package stack

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/kabili207/whisper-go/core/cellreq"
)

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestNewSchedule_Defaults(t *testing.T) {
	s := NewSchedule(ScheduleConfig{})
	if s.cfg.SlotframeLength != DefaultSlotframeLength {
		t.Errorf("SlotframeLength = %d, want %d", s.cfg.SlotframeLength, DefaultSlotframeLength)
	}
	if s.cfg.NumChannels != DefaultNumChannels {
		t.Errorf("NumChannels = %d, want %d", s.cfg.NumChannels, DefaultNumChannels)
	}
	if s.SFID() != DefaultSFID {
		t.Errorf("SFID() = %d, want %d", s.SFID(), DefaultSFID)
	}
}

func TestCandidateCells_FreeAndInRange(t *testing.T) {
	s := NewSchedule(ScheduleConfig{SlotframeLength: 11, NumChannels: 4, Rand: seeded()})
	for slot := uint16(1); slot < 10; slot++ {
		if err := s.Occupy(cellreq.Cell{SlotOffset: slot}); err != nil {
			t.Fatalf("Occupy(%d): %v", slot, err)
		}
	}

	for range 20 {
		cells, err := s.CandidateCells(cellreq.NumCandidateCells)
		if err != nil {
			t.Fatalf("CandidateCells: %v", err)
		}
		if len(cells) != 1 {
			t.Fatalf("len(cells) = %d, want 1", len(cells))
		}
		if cells[0].SlotOffset != 10 {
			t.Errorf("SlotOffset = %d, want the only free slot 10", cells[0].SlotOffset)
		}
		if cells[0].ChannelOffset >= 4 {
			t.Errorf("ChannelOffset = %d, want < 4", cells[0].ChannelOffset)
		}
	}
}

func TestCandidateCells_DistinctSlots(t *testing.T) {
	s := NewSchedule(ScheduleConfig{SlotframeLength: 8, Rand: seeded()})

	cells, err := s.CandidateCells(cellreq.MaxCellListLen)
	if err != nil {
		t.Fatalf("CandidateCells: %v", err)
	}
	if len(cells) != cellreq.MaxCellListLen {
		t.Fatalf("len(cells) = %d, want %d", len(cells), cellreq.MaxCellListLen)
	}
	seen := make(map[uint16]bool)
	for _, c := range cells {
		if c.SlotOffset == 0 {
			t.Error("slot 0 is the shared cell and must not be offered")
		}
		if seen[c.SlotOffset] {
			t.Errorf("slot %d offered twice", c.SlotOffset)
		}
		seen[c.SlotOffset] = true
	}
}

func TestCandidateCells_ClampedToFree(t *testing.T) {
	s := NewSchedule(ScheduleConfig{SlotframeLength: 3, Rand: seeded()})
	cells, err := s.CandidateCells(5)
	if err != nil {
		t.Fatalf("CandidateCells: %v", err)
	}
	if len(cells) != 2 {
		t.Errorf("len(cells) = %d, want 2", len(cells))
	}
}

func TestCandidateCells_Full(t *testing.T) {
	s := NewSchedule(ScheduleConfig{SlotframeLength: 2})
	if err := s.Occupy(cellreq.Cell{SlotOffset: 1}); err != nil {
		t.Fatalf("Occupy: %v", err)
	}
	if _, err := s.CandidateCells(1); !errors.Is(err, ErrScheduleFull) {
		t.Errorf("CandidateCells() error = %v, want %v", err, ErrScheduleFull)
	}

	s.Release(1)
	if _, err := s.CandidateCells(1); err != nil {
		t.Errorf("CandidateCells() after Release error = %v", err)
	}
}

func TestOccupy(t *testing.T) {
	s := NewSchedule(ScheduleConfig{SlotframeLength: 10, NumChannels: 4})

	tests := []struct {
		name string
		cell cellreq.Cell
		want error
	}{
		{"ok", cellreq.Cell{SlotOffset: 3, ChannelOffset: 1}, nil},
		{"same slot", cellreq.Cell{SlotOffset: 3, ChannelOffset: 2}, ErrSlotOccupied},
		{"shared slot", cellreq.Cell{SlotOffset: 0}, ErrCellOutOfRange},
		{"slot past end", cellreq.Cell{SlotOffset: 10}, ErrCellOutOfRange},
		{"channel past end", cellreq.Cell{SlotOffset: 4, ChannelOffset: 4}, ErrCellOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Occupy(tt.cell)
			if tt.want == nil && err != nil {
				t.Errorf("Occupy() error = %v, want nil", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Occupy() error = %v, want %v", err, tt.want)
			}
		})
	}

	got := s.Occupied()
	if len(got) != 1 || got[0] != (cellreq.Cell{SlotOffset: 3, ChannelOffset: 1}) {
		t.Errorf("Occupied() = %v, want [{3 1}]", got)
	}
}

func TestNewSchedule_Reserved(t *testing.T) {
	s := NewSchedule(ScheduleConfig{SlotframeLength: 5, Reserved: []uint16{1, 2, 3, 0, 9}, Rand: seeded()})

	occ := s.Occupied()
	if len(occ) != 3 || occ[0].SlotOffset != 1 || occ[2].SlotOffset != 3 {
		t.Errorf("Occupied() = %v, want slots 1, 2, 3", occ)
	}
	for range 10 {
		cells, err := s.CandidateCells(cellreq.NumCandidateCells)
		if err != nil {
			t.Fatalf("CandidateCells: %v", err)
		}
		if cells[0].SlotOffset != 4 {
			t.Errorf("SlotOffset = %d, want the only unreserved slot 4", cells[0].SlotOffset)
		}
	}
}
