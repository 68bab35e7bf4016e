// Package whisper provides the fault-injection command processor that runs
// on the root of the mesh.
//
// The Processor exposes a single resource to the controller. A read returns
// a fixed status string. A write carries one command: forge a DIO for an
// arbitrary target/parent/rank, or start a 6P cell reservation with an
// arbitrary neighbor. After a forged DIO the processor watches for the
// target's link-layer acknowledgment; the MAC layer reports every received
// ACK through AckReceived.
//
// The processor owns the last forged advertisement and the ACK sniffer.
// Command handling and ACK queries are serialized by one mutex so a command
// always finishes arming the sniffer before any ACK is evaluated.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/whisper-go/core/addr"
	"github.com/kabili207/whisper-go/core/auth"
	"github.com/kabili207/whisper-go/core/cellreq"
	"github.com/kabili207/whisper-go/core/codec"
	"github.com/kabili207/whisper-go/core/dedupe"
	"github.com/kabili207/whisper-go/core/sniffer"
	"github.com/kabili207/whisper-go/core/spoof"
)

const (
	// StatusMessage is returned for read requests.
	StatusMessage = "Whisper node Loaded."

	// DefaultHeartbeatInterval is the period of the diagnostic timer.
	DefaultHeartbeatInterval = 5 * time.Second
)

// ErrMethodNotAllowed is logged for requests with an unsupported method.
var ErrMethodNotAllowed = errors.New("method not allowed")

// Config configures a Processor.
type Config struct {
	// Identity is the root node's own prefix and EUI-64.
	Identity addr.Identity

	// Injector is the routing layer primitive used for forged DIOs.
	Injector spoof.Injector

	// Scheduler samples candidate cells for 6P requests.
	Scheduler cellreq.Scheduler

	// Requester submits 6P requests to the link-establishment layer.
	Requester cellreq.Requester

	// Signer authenticates request and response frames in HandleFrame.
	// If nil, frames are accepted unsigned and responses are not signed.
	Signer *auth.Signer

	// DedupeCapacity is the number of answered requests remembered so a
	// retransmission is not executed twice. Default: dedupe.DefaultCapacity.
	DedupeCapacity int

	// DedupeWindow is how long an answered request is treated as a
	// retransmission. Default: dedupe.DefaultTTL.
	DedupeWindow time.Duration

	// HeartbeatInterval is the diagnostic timer period. Default: 5 seconds.
	HeartbeatInterval time.Duration

	// Heartbeat is called on every diagnostic tick (e.g. to toggle an LED).
	// May be nil.
	Heartbeat func()

	// Metrics receives processor events. May be nil.
	Metrics MetricsReporter

	// Logger for processor events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Processor decodes controller requests and drives the spoofer, the cell
// request builder and the ACK sniffer.
type Processor struct {
	cfg      Config
	log      *slog.Logger
	metrics  MetricsReporter
	sniffer  *sniffer.Sniffer
	spoofer  *spoof.Spoofer
	cells    *cellreq.Builder
	replays  *dedupe.Cache
	counters Counters

	// frameMu makes the replay lookup, execution and store one step.
	frameMu sync.Mutex

	mu     sync.Mutex
	adv    spoof.Advertisement
	hasAdv bool
	cancel context.CancelFunc
}

// New creates a Processor with the given configuration.
func New(cfg Config) *Processor {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("node", cfg.Identity.ShortID().String())

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	sn := sniffer.New(logger)

	return &Processor{
		cfg:     cfg,
		log:     logger.WithGroup("whisper"),
		metrics: metrics,
		sniffer: sn,
		spoofer: spoof.New(spoof.Config{
			Identity: cfg.Identity,
			Injector: cfg.Injector,
			Sniffer:  sn,
			Logger:   logger,
		}),
		cells: cellreq.New(cellreq.Config{
			Identity:  cfg.Identity,
			Scheduler: cfg.Scheduler,
			Requester: cfg.Requester,
			Logger:    logger,
		}),
		replays: dedupe.NewWithConfig(dedupe.Config{
			Capacity: cfg.DedupeCapacity,
			TTL:      cfg.DedupeWindow,
		}),
	}
}

// HandleRequest executes one decoded request and returns its response.
//
// Reads return StatusContent with StatusMessage. Writes return
// StatusChanged, including writes whose discriminant is unknown and writes
// whose side effect failed. Writes too short for their command layout return
// StatusBadRequest. Other methods return StatusMethodNotAllowed.
func (p *Processor) HandleRequest(ctx context.Context, req *codec.Request) *codec.Response {
	p.counters.Requests.Add(1)
	resp := &codec.Response{Token: req.Token}

	switch req.Method {
	case codec.MethodGet:
		p.log.Debug("received GET")
		resp.Status = codec.StatusContent
		resp.Payload = []byte(StatusMessage)

	case codec.MethodPut:
		p.log.Debug("received PUT", "len", len(req.Payload))
		cmd, err := codec.DecodeCommand(req.Payload)
		if err != nil {
			p.reject("bad_request", err)
			resp.Status = codec.StatusBadRequest
			return resp
		}
		p.execute(ctx, cmd)
		resp.Status = codec.StatusChanged

	default:
		p.reject("method_not_allowed", fmt.Errorf("%w: %s", ErrMethodNotAllowed, req.Method))
		resp.Status = codec.StatusMethodNotAllowed
	}

	return resp
}

func (p *Processor) execute(ctx context.Context, cmd codec.Command) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch c := cmd.(type) {
	case codec.SpoofDio:
		p.metrics.IncCommand("spoof_dio")
		p.log.Info("fake DIO command", "rank", c.Rank)
		adv, err := p.spoofer.Spoof(ctx, c)
		p.adv = adv
		p.hasAdv = true
		if err != nil {
			p.counters.DIOsFailed.Add(1)
			p.metrics.IncInjection(false)
			p.log.Warn("fake DIO not sent", "error", err)
		} else {
			p.counters.DIOsInjected.Add(1)
			p.metrics.IncInjection(true)
		}
		p.metrics.SetSnifferArmed(p.sniffer.Armed())

	case codec.ReserveCell:
		p.metrics.IncCommand("reserve_cell")
		p.log.Info("add cell command")
		if _, err := p.cells.Reserve(ctx, c); err != nil {
			p.counters.CellsFailed.Add(1)
			p.metrics.IncCellRequest(false)
		} else {
			p.counters.CellsRequested.Add(1)
			p.metrics.IncCellRequest(true)
		}

	case codec.NoOp:
		p.counters.NoOps.Add(1)
		p.metrics.IncCommand("noop")
		p.log.Debug("ignoring unknown command", "discriminant", c.Discriminant())
	}
}

func (p *Processor) reject(reason string, err error) {
	p.counters.Rejected.Add(1)
	p.metrics.IncRejected(reason)
	p.log.Warn("request rejected", "reason", reason, "error", err)
}

// HandleFrame verifies, decodes and answers one request frame. Frames
// that are not requests return nil. When a Signer is configured, unsigned
// or badly signed requests are answered with StatusUnauthorized and
// responses are signed. A retransmitted request is answered from the
// dedupe cache without being executed again.
func (p *Processor) HandleFrame(ctx context.Context, f *codec.Frame) *codec.Frame {
	if f.Type != codec.FrameTypeRequest {
		return nil
	}

	if p.cfg.Signer != nil {
		if err := p.cfg.Signer.Verify(f); err != nil {
			p.counters.Requests.Add(1)
			p.reject("unauthorized", err)
			return p.seal(&codec.Response{Token: f.Token, Status: codec.StatusUnauthorized})
		}
	}

	req, err := codec.ParseRequest(f)
	if err != nil {
		p.counters.Requests.Add(1)
		p.reject("bad_request", err)
		return p.seal(&codec.Response{Token: f.Token, Status: codec.StatusBadRequest})
	}

	p.frameMu.Lock()
	defer p.frameMu.Unlock()

	if cached, ok := p.replays.Lookup(req); ok {
		p.counters.Requests.Add(1)
		p.counters.Replays.Add(1)
		p.log.Debug("answering retransmitted request from cache", "token", req.Token)
		return p.seal(cached)
	}

	resp := p.HandleRequest(ctx, req)
	p.replays.Store(req, resp)
	return p.seal(resp)
}

func (p *Processor) seal(resp *codec.Response) *codec.Frame {
	f := resp.Frame()
	if p.cfg.Signer != nil {
		p.cfg.Signer.Sign(f)
	}
	return f
}

// AckReceived is called by the MAC layer for every received acknowledgment
// frame. It returns true if src satisfied the armed watch, which consumes
// the watch.
func (p *Processor) AckReceived(src addr.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counters.AcksSeen.Add(1)
	if !p.sniffer.Observe(src) {
		return false
	}
	p.counters.AcksMatched.Add(1)
	p.metrics.IncAckMatched()
	p.metrics.SetSnifferArmed(false)
	return true
}

// Advertisement returns the last forged advertisement and whether one has
// been built yet.
func (p *Processor) Advertisement() (spoof.Advertisement, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adv, p.hasAdv
}

// Target returns the target of the last forged advertisement.
func (p *Processor) Target() addr.Address {
	adv, _ := p.Advertisement()
	return adv.Target
}

// Parent returns the parent of the last forged advertisement.
func (p *Processor) Parent() addr.Address {
	adv, _ := p.Advertisement()
	return adv.Parent
}

// NextHop returns the next hop of the last forged advertisement.
func (p *Processor) NextHop() addr.Address {
	adv, _ := p.Advertisement()
	return adv.NextHop
}

// Rank returns the rank of the last forged advertisement.
func (p *Processor) Rank() uint16 {
	adv, _ := p.Advertisement()
	return adv.Rank
}

// SnifferState returns the ACK sniffer state and watched address.
func (p *Processor) SnifferState() (sniffer.State, addr.Address) {
	return p.sniffer.State()
}

// Counters returns a snapshot of the processor counters.
func (p *Processor) Counters() CountersSnapshot {
	return p.counters.Snapshot()
}
