// whisperd runs the whisper fault-injection processor on the mesh root.
//
// It accepts controller requests over MQTT or serial, drives the root mote
// over a second serial link and exports Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kabili207/whisper-go/device/metrics"
	"github.com/kabili207/whisper-go/device/stack"
	"github.com/kabili207/whisper-go/device/whisper"
	"github.com/kabili207/whisper-go/internal/config"
	"github.com/kabili207/whisper-go/transport"
	"github.com/kabili207/whisper-go/transport/mqtt"
	"github.com/kabili207/whisper-go/transport/serial"
)

// shutdownTimeout bounds the metrics server drain on exit.
const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger, closeLog := newLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)

	if err := serve(cfg, logger); err != nil {
		logger.Error("whisperd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("whisperd stopped")
	return 0
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	id, err := cfg.Identity.Parse()
	if err != nil {
		return err
	}
	signer, err := cfg.Auth.Signer()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	schedule := stack.NewSchedule(stack.ScheduleConfig{
		SlotframeLength: cfg.Schedule.SlotframeLength,
		NumChannels:     cfg.Schedule.Channels,
		SFID:            cfg.Schedule.SFID,
		Reserved:        cfg.Schedule.ReservedSlots,
		Logger:          logger,
	})

	procCfg := whisper.Config{
		Identity:          id,
		Scheduler:         schedule,
		Signer:            signer,
		DedupeCapacity:    cfg.Diagnostics.DedupeCapacity,
		DedupeWindow:      cfg.Diagnostics.DedupeWindow,
		HeartbeatInterval: cfg.Diagnostics.HeartbeatInterval,
		Metrics:           collector,
		Logger:            logger,
	}

	var radio transport.Transport
	if cfg.Radio.Port != "" {
		radio = serial.New(serial.Config{Port: cfg.Radio.Port, BaudRate: cfg.Radio.Baud, Logger: logger})
		bridge := stack.NewBridge(stack.BridgeConfig{Transport: radio, Logger: logger})
		procCfg.Injector = bridge
		procCfg.Requester = bridge
	} else {
		logger.Warn("no radio port configured, injection primitives will fail")
	}

	proc := whisper.New(procCfg)
	controller := newController(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("whisperd starting",
		slog.String("node", id.ShortID().String()),
		slog.String("address", id.Self().String()),
		slog.String("controller", cfg.Controller.Transport),
		slog.Bool("auth", signer != nil),
	)

	if radio != nil {
		radio.SetFrameHandler(proc.AckEventHandler())
		if err := radio.Start(ctx); err != nil {
			return fmt.Errorf("start radio link: %w", err)
		}
		defer stopTransport(radio, "radio", logger)
	}

	proc.Serve(ctx, controller)
	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("start controller link: %w", err)
	}
	defer stopTransport(controller, "controller", logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		proc.Start(gCtx)
		return nil
	})

	if cfg.Metrics.Addr != "" {
		srv := newMetricsServer(cfg.Metrics, reg)
		g.Go(func() error {
			logger.Info("metrics server listening",
				slog.String("addr", cfg.Metrics.Addr),
				slog.String("path", cfg.Metrics.Path),
			)
			return listenAndServe(gCtx, srv, cfg.Metrics.Addr)
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func newController(cfg *config.Config, logger *slog.Logger) transport.Transport {
	if cfg.Controller.Transport == config.TransportSerial {
		return serial.New(serial.Config{
			Port:     cfg.Controller.Serial.Port,
			BaudRate: cfg.Controller.Serial.Baud,
			Logger:   logger,
		})
	}
	m := cfg.Controller.MQTT
	return mqtt.New(mqtt.Config{
		Broker:      m.Broker,
		Username:    m.Username,
		Password:    m.Password,
		UseTLS:      m.TLS,
		ClientID:    m.ClientID,
		TopicPrefix: m.TopicPrefix,
		MeshID:      m.MeshID,
		Logger:      logger,
	})
}

func stopTransport(t transport.Transport, name string, logger *slog.Logger) {
	if err := t.Stop(); err != nil {
		logger.Warn("failed to stop transport", slog.String("link", name), slog.String("error", err.Error()))
	}
}

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newLogger builds the process logger. With log.file set, output goes to a
// rotating file instead of stdout. The returned func closes the file.
func newLogger(cfg config.LogConfig) (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var out io.Writer = os.Stdout
	closer := func() {}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		out = lj
		closer = func() { _ = lj.Close() }
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler), closer
}
