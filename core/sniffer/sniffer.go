// Package sniffer provides the one-shot acknowledgment latch used after a
// forged DIO is injected.
//
// A Sniffer starts disarmed. Arming it with a link-layer address makes the
// next acknowledgment frame from that address match; the match consumes the
// watch and the sniffer disarms itself. Frames from any other address, or
// frames seen while disarmed, are passed through untouched.
package sniffer

import (
	"log/slog"
	"sync"

	"github.com/kabili207/whisper-go/core/addr"
)

// State is the latch state.
type State int

const (
	StateDisarmed State = iota
	StateArmed
)

func (s State) String() string {
	if s == StateArmed {
		return "armed"
	}
	return "disarmed"
}

// Sniffer is safe for concurrent use. Observe never blocks beyond the
// internal mutex and performs no I/O.
type Sniffer struct {
	log   *slog.Logger
	mu    sync.Mutex
	state State
	watch addr.Address
}

// New creates a disarmed Sniffer. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Sniffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sniffer{log: logger.WithGroup("sniffer")}
}

// Arm watches for the next acknowledgment from a, replacing any previous
// watch.
func (s *Sniffer) Arm(a addr.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateArmed
	s.watch = a
	s.log.Debug("armed", "watch", a)
}

// Disarm clears any pending watch.
func (s *Sniffer) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisarmed
	s.watch = addr.Address{}
}

// Observe reports an acknowledgment frame from src. It returns true exactly
// once per Arm, for the first frame whose source equals the watched address.
func (s *Sniffer) Observe(src addr.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateArmed || !src.Equal(s.watch) {
		return false
	}

	s.state = StateDisarmed
	s.watch = addr.Address{}
	s.log.Info("ack received", "from", src)
	return true
}

// State returns the current latch state and, when armed, the watched
// address.
func (s *Sniffer) State() (State, addr.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.watch
}

// Armed reports whether a watch is pending.
func (s *Sniffer) Armed() bool {
	st, _ := s.State()
	return st == StateArmed
}
