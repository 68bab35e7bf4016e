package cellreq

import (
	"context"
	"errors"
	"testing"

	"github.com/kabili207/whisper-go/core/addr"
	"github.com/kabili207/whisper-go/core/codec"
)

type fakeScheduler struct {
	cells []Cell
	err   error
	asked []int
}

func (f *fakeScheduler) CandidateCells(n int) ([]Cell, error) {
	f.asked = append(f.asked, n)
	if f.err != nil {
		return nil, f.err
	}
	if n > len(f.cells) {
		n = len(f.cells)
	}
	return f.cells[:n], nil
}

func (f *fakeScheduler) SFID() uint8 { return 0 }

type fakeRequester struct {
	reqs []Request
	err  error
}

func (f *fakeRequester) SendCellRequest(_ context.Context, req Request) error {
	f.reqs = append(f.reqs, req)
	return f.err
}

func testIdentity() addr.Identity {
	return addr.Identity{
		Prefix: [8]byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA},
		EUI:    [8]byte{0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB},
	}
}

func TestReserve_Scenario(t *testing.T) {
	sched := &fakeScheduler{cells: []Cell{{SlotOffset: 17, ChannelOffset: 3}, {SlotOffset: 40, ChannelOffset: 1}}}
	reqr := &fakeRequester{}
	b := New(Config{Identity: testIdentity(), Scheduler: sched, Requester: reqr})

	_, err := b.Reserve(context.Background(), codec.ReserveCell{TargetSuffix: [2]byte{0x00, 0x07}})
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	if len(reqr.reqs) != 1 {
		t.Fatalf("requests submitted = %d, want 1", len(reqr.reqs))
	}
	req := reqr.reqs[0]

	wantNeighbor := addr.EUI64([8]byte{0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0x00, 0x07})
	if !req.Neighbor.Equal(wantNeighbor) {
		t.Errorf("Neighbor = %s, want %s", req.Neighbor, wantNeighbor)
	}
	if req.Operation != OpAdd {
		t.Errorf("Operation = %v, want ADD", req.Operation)
	}
	if req.CellOptions != CellOptionTX {
		t.Errorf("CellOptions = %#x, want TX", req.CellOptions)
	}
	if req.NumCells != 1 {
		t.Errorf("NumCells = %d, want 1", req.NumCells)
	}
	if len(req.Cells) != 1 || req.Cells[0] != (Cell{SlotOffset: 17, ChannelOffset: 3}) {
		t.Errorf("Cells = %+v, want one sampled cell", req.Cells)
	}
	if len(sched.asked) != 1 || sched.asked[0] != NumCandidateCells {
		t.Errorf("scheduler asked for %v, want [%d]", sched.asked, NumCandidateCells)
	}
}

func TestReserve_RequesterFailureNotRetried(t *testing.T) {
	reqErr := errors.New("6P busy")
	sched := &fakeScheduler{cells: []Cell{{SlotOffset: 1}}}
	reqr := &fakeRequester{err: reqErr}
	b := New(Config{Identity: testIdentity(), Scheduler: sched, Requester: reqr})

	_, err := b.Reserve(context.Background(), codec.ReserveCell{TargetSuffix: [2]byte{0x00, 0x07}})
	if !errors.Is(err, reqErr) {
		t.Fatalf("Reserve() error = %v, want %v", err, reqErr)
	}
	if len(reqr.reqs) != 1 {
		t.Errorf("requests submitted = %d, want exactly 1", len(reqr.reqs))
	}
}

func TestBuild_Errors(t *testing.T) {
	sampleErr := errors.New("schedule full")

	tests := []struct {
		name    string
		sched   Scheduler
		wantErr error
	}{
		{"no scheduler", nil, ErrNotConfigured},
		{"sampling fails", &fakeScheduler{err: sampleErr}, sampleErr},
		{"no candidates", &fakeScheduler{}, ErrNoCandidates},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(Config{Identity: testIdentity(), Scheduler: tt.sched, Requester: &fakeRequester{}})
			_, err := b.Build(codec.ReserveCell{TargetSuffix: [2]byte{0x00, 0x07}})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Build() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

type greedyScheduler struct{}

func (greedyScheduler) CandidateCells(int) ([]Cell, error) {
	return make([]Cell, MaxCellListLen+1), nil
}
func (greedyScheduler) SFID() uint8 { return 0 }

func TestBuild_TooManyCells(t *testing.T) {
	b := New(Config{Identity: testIdentity(), Scheduler: greedyScheduler{}})
	_, err := b.Build(codec.ReserveCell{})
	if !errors.Is(err, ErrTooManyCells) {
		t.Errorf("Build() error = %v, want ErrTooManyCells", err)
	}
}

func TestReserve_NoRequester(t *testing.T) {
	b := New(Config{Identity: testIdentity(), Scheduler: &fakeScheduler{cells: []Cell{{}}}})
	_, err := b.Reserve(context.Background(), codec.ReserveCell{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Reserve() error = %v, want ErrNotConfigured", err)
	}
}
