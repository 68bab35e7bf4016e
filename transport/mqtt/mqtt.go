// Package mqtt provides an MQTT transport for the controller channel.
//
// Frames are published as base64-encoded strings. The root subscribes to
// "{prefix}/{meshID}/req" and publishes responses to
// "{prefix}/{meshID}/resp"; a controller uses the same topics the other way
// round.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/kabili207/whisper-go/core/codec"
	"github.com/kabili207/whisper-go/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix.
	DefaultTopicPrefix = "whisper"

	requestSuffix  = "/req"
	responseSuffix = "/resp"
)

var (
	ErrNoBroker     = errors.New("broker URL is required")
	ErrNoMeshID     = errors.New("mesh ID is required")
	ErrNotConnected = errors.New("not connected")
	ErrTimeout      = errors.New("MQTT operation timed out")
)

// Config holds the configuration for an MQTT transport.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "whisper").
	TopicPrefix string
	// MeshID identifies the mesh whose root is being driven.
	MeshID string
	// Controller swaps the request and response topics so the transport
	// publishes requests and receives responses.
	Controller bool
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cfg          Config
	client       paho.Client
	log          *slog.Logger
	mu           sync.RWMutex
	connected    bool
	ready        chan struct{}
	frameHandler transport.FrameHandler
	stateHandler transport.StateHandler
}

// New creates a new MQTT transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("mqtt"),
	}
}

// Start connects to the MQTT broker and begins listening for frames.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Broker == "" {
		return ErrNoBroker
	}
	if t.cfg.MeshID == "" {
		return ErrNoMeshID
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "whisper-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	client := paho.NewClient(opts)
	ready := make(chan struct{})
	t.mu.Lock()
	t.client = client
	t.ready = ready
	t.mu.Unlock()

	timeout := time.After(30 * time.Second)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-timeout:
		return fmt.Errorf("connecting to broker: %w", ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}

	// Frames sent before the first subscription completes could miss
	// their answers.
	select {
	case <-ready:
	case <-timeout:
		return fmt.Errorf("subscribing to %s: %w", t.inboundTopic(), ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// Stop gracefully disconnects from the MQTT broker.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		t.client.Disconnect(1000)
		t.connected = false
	}
	return nil
}

// IsConnected returns true if the transport is connected to the broker.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
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

// SendFrame encodes a frame and publishes it to the outbound topic.
func (t *Transport) SendFrame(frame *codec.Frame) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}

	payload := encodePayload(frame)

	token := t.client.Publish(t.outboundTopic(), 1, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publishing to MQTT: %w", ErrTimeout)
	}
	return token.Error()
}

func (t *Transport) base() string {
	return t.cfg.TopicPrefix + "/" + t.cfg.MeshID
}

// inboundTopic is the topic this transport subscribes to.
func (t *Transport) inboundTopic() string {
	if t.cfg.Controller {
		return t.base() + responseSuffix
	}
	return t.base() + requestSuffix
}

// outboundTopic is the topic this transport publishes to.
func (t *Transport) outboundTopic() string {
	if t.cfg.Controller {
		return t.base() + requestSuffix
	}
	return t.base() + responseSuffix
}

func (t *Transport) subscribe(client paho.Client) {
	topic := t.inboundTopic()
	token := client.Subscribe(topic, 1, t.handleMessage)
	if !token.WaitTimeout(10 * time.Second) {
		t.log.Error("subscribe timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		t.log.Error("subscribe failed", "topic", topic, "error", err)
		return
	}
	t.log.Debug("subscribed to topic", "topic", topic)

	t.mu.Lock()
	if t.ready != nil {
		close(t.ready)
		t.ready = nil
	}
	t.mu.Unlock()
}

func (t *Transport) handleMessage(_ paho.Client, message paho.Message) {
	t.dispatch(message.Payload())
}

func (t *Transport) dispatch(body []byte) {
	t.mu.RLock()
	handler := t.frameHandler
	t.mu.RUnlock()

	if handler == nil {
		return
	}

	frame, err := decodePayload(body)
	if err != nil {
		t.log.Debug("dropping malformed message", "error", err)
		return
	}

	handler(frame, transport.FrameSourceMQTT)
}

func encodePayload(frame *codec.Frame) string {
	return base64.StdEncoding.EncodeToString(frame.Encode())
}

func decodePayload(body []byte) (*codec.Frame, error) {
	raw, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		return nil, fmt.Errorf("decoding base64 payload: %w", err)
	}
	return codec.DecodeFrame(raw)
}

func (t *Transport) onConnected(client paho.Client) {
	t.mu.Lock()
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	t.subscribe(client)
	t.log.Info("connected to MQTT broker", "broker", t.cfg.Broker)

	if handler != nil {
		handler(t, transport.EventConnected)
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Error("MQTT connection lost", "error", err)

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}

func (t *Transport) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()

	t.log.Info("reconnecting to MQTT broker")

	if handler != nil {
		handler(t, transport.EventReconnecting)
	}
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
