// Package config loads whisperd configuration.
//
// Configuration is layered: compiled-in defaults, then a YAML file, then
// environment variables with the WHISPER_ prefix. Nested keys are separated
// by a double underscore: WHISPER_LOG__MAX_SIZE_MB sets log.max_size_mb.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kabili207/whisper-go/core/addr"
	"github.com/kabili207/whisper-go/core/auth"
)

// Controller transports.
const (
	TransportMQTT   = "mqtt"
	TransportSerial = "serial"
)

// Config is the top-level whisperd configuration.
type Config struct {
	Identity    IdentityConfig    `koanf:"identity"`
	Controller  ControllerConfig  `koanf:"controller"`
	Radio       SerialConfig      `koanf:"radio"`
	Auth        AuthConfig        `koanf:"auth"`
	Schedule    ScheduleConfig    `koanf:"schedule"`
	Diagnostics DiagnosticsConfig `koanf:"diagnostics"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Log         LogConfig         `koanf:"log"`
}

// IdentityConfig holds the root node's address material as hex strings.
type IdentityConfig struct {
	// Prefix is the 8-byte network prefix, e.g. "bbbb:0000:0000:0000".
	Prefix string `koanf:"prefix"`
	// EUI64 is the root's 8-byte link-layer address.
	EUI64 string `koanf:"eui64"`
}

// Parse converts the hex fields into an addr.Identity.
func (ic IdentityConfig) Parse() (addr.Identity, error) {
	var id addr.Identity

	prefix, err := addr.ParseHex(ic.Prefix, addr.PrefixSize)
	if err != nil {
		return id, fmt.Errorf("identity.prefix: %w", err)
	}
	eui, err := addr.ParseHex(ic.EUI64, addr.EUI64Size)
	if err != nil {
		return id, fmt.Errorf("identity.eui64: %w", err)
	}

	copy(id.Prefix[:], prefix)
	copy(id.EUI[:], eui)
	return id, nil
}

// ControllerConfig selects and configures the controller channel.
type ControllerConfig struct {
	// Transport is "mqtt" or "serial".
	Transport string       `koanf:"transport"`
	MQTT      MQTTConfig   `koanf:"mqtt"`
	Serial    SerialConfig `koanf:"serial"`
}

// MQTTConfig configures the MQTT controller transport.
type MQTTConfig struct {
	Broker      string `koanf:"broker"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	TLS         bool   `koanf:"tls"`
	ClientID    string `koanf:"client_id"`
	TopicPrefix string `koanf:"topic_prefix"`
	MeshID      string `koanf:"mesh_id"`
}

// SerialConfig configures a serial link.
type SerialConfig struct {
	Port string `koanf:"port"`
	Baud int    `koanf:"baud"`
}

// AuthConfig configures request authentication.
type AuthConfig struct {
	Enabled bool `koanf:"enabled"`
	// PrivateKey is the daemon's Ed25519 key (hex seed or full key).
	PrivateKey string `koanf:"private_key"`
	// ControllerKey is the controller's Ed25519 public key (hex).
	ControllerKey string `koanf:"controller_key"`
}

// Signer builds the frame signer, or returns nil when authentication is
// disabled.
func (ac AuthConfig) Signer() (*auth.Signer, error) {
	if !ac.Enabled {
		return nil, nil
	}
	local, err := auth.ParseKeyPair(ac.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("auth.private_key: %w", err)
	}
	remote, err := auth.ParsePublicKey(ac.ControllerKey)
	if err != nil {
		return nil, fmt.Errorf("auth.controller_key: %w", err)
	}
	return auth.NewPeerSigner(local, remote)
}

// ScheduleConfig configures the in-memory slotframe.
type ScheduleConfig struct {
	SlotframeLength uint16 `koanf:"slotframe_length"`
	Channels        uint16 `koanf:"channels"`
	SFID            uint8  `koanf:"sfid"`
	// ReservedSlots are never offered as candidate cells.
	ReservedSlots []uint16 `koanf:"reserved_slots"`
}

// DiagnosticsConfig configures the heartbeat and retransmission cache.
type DiagnosticsConfig struct {
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	DedupeCapacity    int           `koanf:"dedupe_capacity"`
	// DedupeWindow bounds how long a repeated request counts as a
	// retransmission.
	DedupeWindow time.Duration `koanf:"dedupe_window"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	// Addr is the HTTP listen address. Empty disables the endpoint.
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is "json" or "text".
	Format string `koanf:"format"`
	// File, if set, receives logs through a rotating writer.
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
}

// DefaultConfig returns a configuration populated with defaults. The root's
// EUI-64 has no sensible default and must be configured.
func DefaultConfig() *Config {
	return &Config{
		Identity: IdentityConfig{
			Prefix: "bbbb000000000000",
		},
		Controller: ControllerConfig{
			Transport: TransportMQTT,
			MQTT: MQTTConfig{
				Broker:      "tcp://localhost:1883",
				TopicPrefix: "whisper",
				MeshID:      "default",
			},
			Serial: SerialConfig{Baud: 115200},
		},
		Radio: SerialConfig{Baud: 115200},
		Schedule: ScheduleConfig{
			SlotframeLength: 101,
			Channels:        16,
		},
		Diagnostics: DiagnosticsConfig{
			HeartbeatInterval: 5 * time.Second,
			DedupeCapacity:    32,
			DedupeWindow:      30 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9110",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

const envPrefix = "WHISPER_"

// Load reads configuration from the YAML file at path, layered over
// defaults and under environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper maps WHISPER_LOG__MAX_SIZE_MB to log.max_size_mb.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

func loadDefaults(k *koanf.Koanf, d *Config) error {
	defaultMap := map[string]any{
		"identity.prefix":                d.Identity.Prefix,
		"controller.transport":           d.Controller.Transport,
		"controller.mqtt.broker":         d.Controller.MQTT.Broker,
		"controller.mqtt.topic_prefix":   d.Controller.MQTT.TopicPrefix,
		"controller.mqtt.mesh_id":        d.Controller.MQTT.MeshID,
		"controller.serial.baud":         d.Controller.Serial.Baud,
		"radio.baud":                     d.Radio.Baud,
		"schedule.slotframe_length":      d.Schedule.SlotframeLength,
		"schedule.channels":              d.Schedule.Channels,
		"schedule.sfid":                  d.Schedule.SFID,
		"diagnostics.heartbeat_interval": d.Diagnostics.HeartbeatInterval.String(),
		"diagnostics.dedupe_capacity":    d.Diagnostics.DedupeCapacity,
		"diagnostics.dedupe_window":      d.Diagnostics.DedupeWindow.String(),
		"metrics.addr":                   d.Metrics.Addr,
		"metrics.path":                   d.Metrics.Path,
		"log.level":                      d.Log.Level,
		"log.format":                     d.Log.Format,
		"log.max_size_mb":                d.Log.MaxSizeMB,
		"log.max_backups":                d.Log.MaxBackups,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

var (
	ErrInvalidIdentity      = errors.New("identity is invalid")
	ErrInvalidTransport     = errors.New("controller.transport must be mqtt or serial")
	ErrMissingBroker        = errors.New("controller.mqtt.broker must not be empty")
	ErrMissingMeshID        = errors.New("controller.mqtt.mesh_id must not be empty")
	ErrMissingControllerTTY = errors.New("controller.serial.port must not be empty")
	ErrSharedSerialPort     = errors.New("controller and radio must use different serial ports")
	ErrInvalidSlotframe     = errors.New("schedule.slotframe_length must be >= 2")
	ErrInvalidChannels      = errors.New("schedule.channels must be between 1 and 16")
	ErrInvalidHeartbeat     = errors.New("diagnostics.heartbeat_interval must be > 0")
	ErrInvalidAuthKeys      = errors.New("auth keys are invalid")
	ErrInvalidLogFormat     = errors.New("log.format must be json or text")
)

// Validate checks cfg for consistency.
func Validate(cfg *Config) error {
	if _, err := cfg.Identity.Parse(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}

	switch cfg.Controller.Transport {
	case TransportMQTT:
		if cfg.Controller.MQTT.Broker == "" {
			return ErrMissingBroker
		}
		if cfg.Controller.MQTT.MeshID == "" {
			return ErrMissingMeshID
		}
	case TransportSerial:
		if cfg.Controller.Serial.Port == "" {
			return ErrMissingControllerTTY
		}
		if cfg.Controller.Serial.Port == cfg.Radio.Port {
			return ErrSharedSerialPort
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidTransport, cfg.Controller.Transport)
	}

	if cfg.Schedule.SlotframeLength < 2 {
		return ErrInvalidSlotframe
	}
	if cfg.Schedule.Channels < 1 || cfg.Schedule.Channels > 16 {
		return ErrInvalidChannels
	}

	if cfg.Diagnostics.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeat
	}

	if _, err := cfg.Auth.Signer(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAuthKeys, err)
	}

	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidLogFormat, cfg.Log.Format)
	}

	return nil
}

// ParseLogLevel converts a string log level to slog.Level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
