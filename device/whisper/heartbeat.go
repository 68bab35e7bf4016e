package whisper

import (
	"context"
	"time"
)

// Start runs the diagnostic timer until the context is cancelled or Stop
// is called. Typically called in a goroutine:
//
//	go proc.Start(ctx)
func (p *Processor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.beat()
		}
	}
}

// Stop cancels the diagnostic timer.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Processor) beat() {
	if p.cfg.Heartbeat != nil {
		p.cfg.Heartbeat()
	}

	st, watch := p.sniffer.State()
	c := p.counters.Snapshot()
	p.log.Debug("heartbeat",
		"sniffer", st.String(),
		"watch", watch,
		"requests", c.Requests,
		"dios", c.DIOsInjected,
		"cells", c.CellsRequested,
		"acks_matched", c.AcksMatched,
	)
}
