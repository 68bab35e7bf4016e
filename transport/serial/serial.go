// Package serial provides a serial transport for whisper frames.
//
// Frames travel inside magic/length/Fletcher-16 envelopes. The same
// transport serves the controller link and the radio link to the root
// mote; the frame types on the wire tell them apart.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kabili207/whisper-go/core/codec"
	"github.com/kabili207/whisper-go/transport"
	"go.bug.st/serial"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultBaudRate is the default baud rate of the root mote's UART.
	DefaultBaudRate = 115200

	// readBufSize is the size of the serial read buffer.
	readBufSize = 1024
)

var (
	// ErrNoPort is returned by Start when no port path is configured.
	ErrNoPort = errors.New("serial port is required")
	// ErrNotConnected is returned by SendFrame before Start or after Stop.
	ErrNotConnected = errors.New("not connected")
)

// Config holds the configuration for a serial transport.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 115200.
	BaudRate int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over a serial connection.
type Transport struct {
	cfg          Config
	port         serial.Port
	log          *slog.Logger
	mu           sync.RWMutex
	writeMu      sync.Mutex
	connected    bool
	cancel       context.CancelFunc
	done         chan struct{}
	frameHandler transport.FrameHandler
	stateHandler transport.StateHandler
}

// New creates a new serial transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("serial"),
	}
}

// Start opens the serial port and begins reading frames.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Port == "" {
		return ErrNoPort
	}

	port, err := serial.Open(t.cfg.Port, &serial.Mode{BaudRate: t.cfg.BaudRate})
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.port = port
	t.connected = true
	t.done = make(chan struct{})
	t.cancel = cancel
	handler := t.stateHandler
	done := t.done
	t.mu.Unlock()

	go t.readLoop(readCtx, port, done)

	t.log.Info("connected to serial port", "port", t.cfg.Port, "baud", t.cfg.BaudRate)

	if handler != nil {
		handler(t, transport.EventConnected)
	}

	return nil
}

// Stop closes the serial port and waits for the read loop to exit.
func (t *Transport) Stop() error {
	t.mu.Lock()
	handler := t.stateHandler
	cancel := t.cancel
	t.cancel = nil
	t.connected = false
	port := t.port
	t.port = nil
	done := t.done
	t.done = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if port != nil {
		err = port.Close()
	}

	if done != nil {
		<-done
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}

	return err
}

// IsConnected returns true if the serial port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetFrameHandler sets the callback for incoming frames.
func (t *Transport) SetFrameHandler(fn transport.FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameHandler = fn
}

// SetStateHandler sets the callback for transport state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// SendFrame wraps a frame in a serial envelope and writes it to the port.
func (t *Transport) SendFrame(frame *codec.Frame) error {
	t.mu.RLock()
	port := t.port
	connected := t.connected
	t.mu.RUnlock()

	if !connected || port == nil {
		return ErrNotConnected
	}

	env, err := codec.EncodeSerialEnvelope(frame.Encode())
	if err != nil {
		return fmt.Errorf("encoding serial envelope: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := port.Write(env); err != nil {
		return fmt.Errorf("writing to serial port: %w", err)
	}
	return nil
}

// readLoop reads from the port and assembles envelopes until the context
// is cancelled or the port fails.
func (t *Transport) readLoop(ctx context.Context, port io.Reader, done chan struct{}) {
	defer close(done)

	buf := make([]byte, readBufSize)
	var pending []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				t.log.Error("serial read error", "error", err)
			}
			t.handleDisconnect(err)
			return
		}

		if n == 0 {
			continue
		}

		pending = append(pending, buf[:n]...)
		pending = t.processEnvelopes(pending)
	}
}

// processEnvelopes extracts complete envelopes from data and dispatches the
// frames they carry. Returns the bytes that do not yet form an envelope.
func (t *Transport) processEnvelopes(data []byte) []byte {
	for len(data) >= codec.MinSerialSize {
		payload, rest, err := codec.DecodeSerialEnvelope(data)
		if err != nil {
			if errors.Is(err, codec.ErrIncompleteEnvelope) {
				return data
			}
			// Resynchronise on the next magic.
			if idx := findMagic(data[1:]); idx >= 0 {
				data = data[1+idx:]
				continue
			}
			// Keep a trailing first magic byte; the second may still arrive.
			if data[len(data)-1] == byte(codec.SerialMagic>>8) {
				return data[len(data)-1:]
			}
			return nil
		}

		data = rest

		frame, err := codec.DecodeFrame(payload)
		if err != nil {
			t.log.Debug("failed to decode frame from envelope", "error", err)
			continue
		}

		t.mu.RLock()
		handler := t.frameHandler
		t.mu.RUnlock()

		if handler != nil {
			handler(frame, transport.FrameSourceSerial)
		}
	}

	return data
}

// findMagic returns the index of the first serial magic in data, or -1.
func findMagic(data []byte) int {
	hi, lo := byte(codec.SerialMagic>>8), byte(codec.SerialMagic & 0xFF)
	for i := 0; i+1 < len(data); i++ {
		if data[i] == hi && data[i+1] == lo {
			return i
		}
	}
	return -1
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	if err != nil {
		t.log.Error("serial disconnected", "error", err)
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}
