package whisper

import "sync/atomic"

// Counters tracks processor activity using atomic counters.
// All fields are safe for concurrent access.
type Counters struct {
	Requests       atomic.Uint32 // Requests handled (including replays)
	Replays        atomic.Uint32 // Requests answered from the dedupe cache
	Rejected       atomic.Uint32 // Requests refused (bad request, auth, method)
	NoOps          atomic.Uint32 // Write commands with an unknown discriminant
	DIOsInjected   atomic.Uint32 // Forged DIOs accepted by the routing layer
	DIOsFailed     atomic.Uint32 // Forged DIOs rejected by the routing layer
	CellsRequested atomic.Uint32 // 6P requests accepted by the link layer
	CellsFailed    atomic.Uint32 // 6P requests that could not be sent
	AcksSeen       atomic.Uint32 // ACK frames reported by the MAC layer
	AcksMatched    atomic.Uint32 // ACK frames that satisfied an armed watch
}

// CountersSnapshot is a plain-value copy of Counters for reading.
type CountersSnapshot struct {
	Requests       uint32
	Replays        uint32
	Rejected       uint32
	NoOps          uint32
	DIOsInjected   uint32
	DIOsFailed     uint32
	CellsRequested uint32
	CellsFailed    uint32
	AcksSeen       uint32
	AcksMatched    uint32
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		Requests:       c.Requests.Load(),
		Replays:        c.Replays.Load(),
		Rejected:       c.Rejected.Load(),
		NoOps:          c.NoOps.Load(),
		DIOsInjected:   c.DIOsInjected.Load(),
		DIOsFailed:     c.DIOsFailed.Load(),
		CellsRequested: c.CellsRequested.Load(),
		CellsFailed:    c.CellsFailed.Load(),
		AcksSeen:       c.AcksSeen.Load(),
		AcksMatched:    c.AcksMatched.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.Requests.Store(0)
	c.Replays.Store(0)
	c.Rejected.Store(0)
	c.NoOps.Store(0)
	c.DIOsInjected.Store(0)
	c.DIOsFailed.Store(0)
	c.CellsRequested.Store(0)
	c.CellsFailed.Store(0)
	c.AcksSeen.Store(0)
	c.AcksMatched.Store(0)
}
