package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kabili207/whisper-go/core/auth"
	"github.com/kabili207/whisper-go/transport"
	"github.com/kabili207/whisper-go/transport/mqtt"
	"github.com/kabili207/whisper-go/transport/serial"
)

// connection flags shared by every command that talks to a root.
type connFlags struct {
	transport   string
	broker      string
	username    string
	password    string
	topicPrefix string
	meshID      string
	port        string
	baud        int
	timeout     time.Duration
	key         string
	rootKey     string
	verbose     bool
}

var (
	flags connFlags

	// link and client are set up in PersistentPreRunE and torn down by
	// execute, including when a command fails.
	link   transport.Transport
	client *transport.Client

	// dial builds the controller transport; replaced in tests.
	dial = newTransport
)

var rootCmd = &cobra.Command{
	Use:   "whisperctl",
	Short: "Controller for the whisper fault-injection root",
	Long: "whisperctl sends requests to a whisperd root over MQTT or serial: " +
		"forged DIOs, 6P cell reservations and status reads.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return connect(cmd.Context())
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.transport, "transport", "mqtt", "controller transport: mqtt, serial")
	pf.StringVar(&flags.broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	pf.StringVar(&flags.username, "username", "", "MQTT username")
	pf.StringVar(&flags.password, "password", "", "MQTT password")
	pf.StringVar(&flags.topicPrefix, "topic-prefix", mqtt.DefaultTopicPrefix, "MQTT topic prefix")
	pf.StringVar(&flags.meshID, "mesh-id", "default", "mesh identifier used in MQTT topics")
	pf.StringVar(&flags.port, "port", "", "serial port of the root")
	pf.IntVar(&flags.baud, "baud", serial.DefaultBaudRate, "serial baud rate")
	pf.DurationVar(&flags.timeout, "timeout", 5*time.Second, "time to wait for a response")
	pf.StringVar(&flags.key, "key", "", "controller Ed25519 private key (hex); enables signing")
	pf.StringVar(&flags.rootKey, "root-key", "", "root Ed25519 public key (hex)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log transport activity to stderr")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(spoofDioCmd())
	rootCmd.AddCommand(reserveCellCmd())
	rootCmd.AddCommand(keygenCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// execute runs the root command and always closes the connection. Cobra
// skips post-run hooks when RunE fails.
func execute() error {
	defer disconnect()
	return rootCmd.Execute()
}

func newLogger(verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTransport(f connFlags, logger *slog.Logger) (transport.Transport, error) {
	switch f.transport {
	case "mqtt":
		return mqtt.New(mqtt.Config{
			Broker:      f.broker,
			Username:    f.username,
			Password:    f.password,
			TopicPrefix: f.topicPrefix,
			MeshID:      f.meshID,
			Controller:  true,
			Logger:      logger,
		}), nil
	case "serial":
		return serial.New(serial.Config{Port: f.port, BaudRate: f.baud, Logger: logger}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", f.transport)
	}
}

func newSigner(f connFlags) (*auth.Signer, error) {
	if f.key == "" {
		return nil, nil
	}
	local, err := auth.ParseKeyPair(f.key)
	if err != nil {
		return nil, fmt.Errorf("--key: %w", err)
	}
	remote, err := auth.ParsePublicKey(f.rootKey)
	if err != nil {
		return nil, fmt.Errorf("--root-key: %w", err)
	}
	return auth.NewPeerSigner(local, remote)
}

func connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(flags.verbose)

	signer, err := newSigner(flags)
	if err != nil {
		return err
	}
	t, err := dial(flags, logger)
	if err != nil {
		return err
	}

	client = transport.NewClient(transport.ClientConfig{Transport: t, Signer: signer, Logger: logger})
	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("connecting to root: %w", err)
	}
	link = t
	return nil
}

func disconnect() {
	if client != nil {
		client.Close()
		client = nil
	}
	if link != nil {
		_ = link.Stop()
		link = nil
	}
}

// requestContext bounds one request by --timeout.
func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, flags.timeout)
}
