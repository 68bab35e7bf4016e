package serial

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kabili207/whisper-go/core/codec"
	"github.com/kabili207/whisper-go/transport"
)

// makeTestFrame creates a simple ACK event frame for testing.
func makeTestFrame() *codec.Frame {
	return &codec.Frame{
		Type:    codec.FrameTypeAckEvent,
		Token:   0x0102,
		Payload: []byte{0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0x00, 0x05},
	}
}

// envelope wraps a frame in a serial envelope.
func envelope(t *testing.T, f *codec.Frame) []byte {
	t.Helper()
	env, err := codec.EncodeSerialEnvelope(f.Encode())
	if err != nil {
		t.Fatalf("failed to encode serial envelope: %v", err)
	}
	return env
}

// collect returns a transport whose handler appends to the returned slice.
func collect(t *testing.T) (*Transport, *[]*codec.Frame) {
	t.Helper()
	var mu sync.Mutex
	var received []*codec.Frame
	tr := New(Config{})
	tr.frameHandler = func(f *codec.Frame, source transport.FrameSource) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, f)
		if source != transport.FrameSourceSerial {
			t.Errorf("source = %v, want %v", source, transport.FrameSourceSerial)
		}
	}
	return tr, &received
}

func TestProcessEnvelopes_Single(t *testing.T) {
	f := makeTestFrame()
	tr, received := collect(t)

	remaining := tr.processEnvelopes(envelope(t, f))
	if len(remaining) != 0 {
		t.Errorf("remaining = %d bytes, want 0", len(remaining))
	}
	if len(*received) != 1 {
		t.Fatalf("received %d frames, want 1", len(*received))
	}
	got := (*received)[0]
	if got.Type != f.Type || got.Token != f.Token || string(got.Payload) != string(f.Payload) {
		t.Errorf("frame = %+v, want %+v", got, f)
	}
}

func TestProcessEnvelopes_Multiple(t *testing.T) {
	f1 := makeTestFrame()
	f2 := (&codec.Request{Token: 7, Method: codec.MethodGet}).Frame()

	data := append(envelope(t, f1), envelope(t, f2)...)
	tr, received := collect(t)

	remaining := tr.processEnvelopes(data)
	if len(remaining) != 0 {
		t.Errorf("remaining = %d bytes, want 0", len(remaining))
	}
	if len(*received) != 2 {
		t.Fatalf("received %d frames, want 2", len(*received))
	}
	if (*received)[0].Type != codec.FrameTypeAckEvent || (*received)[1].Type != codec.FrameTypeRequest {
		t.Errorf("types = %s, %s; want ack_event, request", (*received)[0].Type, (*received)[1].Type)
	}
}

func TestProcessEnvelopes_Incomplete(t *testing.T) {
	env := envelope(t, makeTestFrame())
	partial := env[:len(env)-2]
	tr, received := collect(t)

	remaining := tr.processEnvelopes(partial)
	if len(*received) != 0 {
		t.Errorf("received %d frames from an incomplete envelope, want 0", len(*received))
	}
	if len(remaining) != len(partial) {
		t.Errorf("remaining = %d bytes, want %d", len(remaining), len(partial))
	}
}

func TestProcessEnvelopes_IncrementalAssembly(t *testing.T) {
	env := envelope(t, makeTestFrame())
	tr, received := collect(t)

	var buf []byte
	for _, b := range env {
		buf = append(buf, b)
		buf = tr.processEnvelopes(buf)
	}

	if len(*received) != 1 {
		t.Fatalf("received %d frames after incremental assembly, want 1", len(*received))
	}
	if len(buf) != 0 {
		t.Errorf("remaining = %d bytes, want 0", len(buf))
	}
}

func TestProcessEnvelopes_GarbageBeforeEnvelope(t *testing.T) {
	garbage := []byte{0x00, 0x01, 0x02, 0xFF, 0x57}
	data := append(garbage, envelope(t, makeTestFrame())...)
	tr, received := collect(t)

	remaining := tr.processEnvelopes(data)
	if len(*received) != 1 {
		t.Fatalf("received %d frames after garbage, want 1", len(*received))
	}
	if len(remaining) != 0 {
		t.Errorf("remaining = %d bytes, want 0", len(remaining))
	}
}

func TestProcessEnvelopes_CorruptChecksumSkipped(t *testing.T) {
	bad := envelope(t, makeTestFrame())
	bad[len(bad)-1] ^= 0xFF
	good := envelope(t, (&codec.Request{Token: 3, Method: codec.MethodGet}).Frame())
	tr, received := collect(t)

	tr.processEnvelopes(append(bad, good...))
	if len(*received) != 1 {
		t.Fatalf("received %d frames, want 1", len(*received))
	}
	if (*received)[0].Token != 3 {
		t.Errorf("token = %d, want 3", (*received)[0].Token)
	}
}

func TestProcessEnvelopes_UndecodableFrameDropped(t *testing.T) {
	env, err := codec.EncodeSerialEnvelope([]byte{0x01, 0x00})
	if err != nil {
		t.Fatalf("EncodeSerialEnvelope: %v", err)
	}
	tr, received := collect(t)

	remaining := tr.processEnvelopes(env)
	if len(*received) != 0 {
		t.Errorf("received %d frames, want 0", len(*received))
	}
	if len(remaining) != 0 {
		t.Errorf("remaining = %d bytes, want 0", len(remaining))
	}
}

func TestProcessEnvelopes_NoHandler(t *testing.T) {
	tr := New(Config{})
	remaining := tr.processEnvelopes(envelope(t, makeTestFrame()))
	if len(remaining) != 0 {
		t.Errorf("remaining = %d bytes, want 0", len(remaining))
	}
}

func TestFindMagic(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want int
	}{
		{"magic at start", []byte{0x57, 0x53, 0x05}, 0},
		{"magic in middle", []byte{0x00, 0x01, 0x57, 0x53, 0x05}, 2},
		{"no magic", []byte{0x00, 0x01, 0x02, 0x03}, -1},
		{"partial magic at end", []byte{0x00, 0x57}, -1},
		{"empty", []byte{}, -1},
		{"just magic", []byte{0x57, 0x53}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findMagic(tt.data); got != tt.want {
				t.Errorf("findMagic() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReadLoop_DispatchesAndDisconnects(t *testing.T) {
	tr, received := collect(t)
	tr.connected = true

	var events []transport.Event
	tr.stateHandler = func(_ transport.Transport, e transport.Event) {
		events = append(events, e)
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go tr.readLoop(context.Background(), pr, done)

	env := envelope(t, makeTestFrame())
	if _, err := pw.Write(env[:3]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := pw.Write(env[3:]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	pw.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit after EOF")
	}

	if len(*received) != 1 {
		t.Errorf("received %d frames, want 1", len(*received))
	}
	if tr.IsConnected() {
		t.Error("transport should be disconnected after EOF")
	}
	if len(events) != 1 || events[0] != transport.EventDisconnected {
		t.Errorf("events = %v, want [disconnected]", events)
	}
}

func TestSendFrame_NotConnected(t *testing.T) {
	tr := New(Config{Port: "/dev/null", BaudRate: 115200})

	err := tr.SendFrame(makeTestFrame())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendFrame() error = %v, want %v", err, ErrNotConnected)
	}
}

func TestStart_NoPort(t *testing.T) {
	tr := New(Config{})
	if err := tr.Start(context.Background()); !errors.Is(err, ErrNoPort) {
		t.Errorf("Start() error = %v, want %v", err, ErrNoPort)
	}
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Config{Port: "/dev/ttyUSB0"})
	if tr.cfg.BaudRate != DefaultBaudRate {
		t.Errorf("BaudRate = %d, want %d", tr.cfg.BaudRate, DefaultBaudRate)
	}
	if tr.log == nil {
		t.Error("expected logger to be set")
	}
}
