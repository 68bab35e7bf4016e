package whisper

import (
	"context"

	"github.com/kabili207/whisper-go/core/addr"
	"github.com/kabili207/whisper-go/core/codec"
	"github.com/kabili207/whisper-go/transport"
)

// Serve answers request frames arriving on t. Responses are sent back on
// the same transport. Frames of other types are ignored.
func (p *Processor) Serve(ctx context.Context, t transport.Transport) {
	t.SetFrameHandler(func(f *codec.Frame, src transport.FrameSource) {
		resp := p.HandleFrame(ctx, f)
		if resp == nil {
			return
		}
		if err := t.SendFrame(resp); err != nil {
			p.log.Warn("failed to send response", "token", resp.Token, "source", src.String(), "error", err)
		}
	})
}

// AckEventHandler returns a frame handler that feeds ACK event frames
// (payload: the link-layer source address) into AckReceived.
func (p *Processor) AckEventHandler() transport.FrameHandler {
	return func(f *codec.Frame, _ transport.FrameSource) {
		if f.Type != codec.FrameTypeAckEvent {
			return
		}
		src, err := addr.FromBytes(f.Payload)
		if err != nil {
			p.log.Debug("malformed ACK event", "error", err)
			return
		}
		p.AckReceived(src)
	}
}
