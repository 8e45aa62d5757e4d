package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ironsheep/image-queue-server/internal/audit"
	"github.com/ironsheep/image-queue-server/internal/config"
	"github.com/ironsheep/image-queue-server/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("image-server %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("image-server - queued image processing server")
			fmt.Println()
			fmt.Print(config.Usage())
			fmt.Println()
			fmt.Println("Audit lines are written to stdout, logs to stderr.")
			return
		}
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "image-server: %v\n\n", err)
		fmt.Fprint(os.Stderr, config.Usage())
		os.Exit(1)
	}

	// Logs go to stderr; stdout carries audit lines only.
	logger := zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
	})).Level(cfg.Level()).With().Timestamp().Logger()
	logger.Debug().Str("version", Version).Str("commit", GitCommit).Msg("image server starting")

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	var mirrors []audit.Sink
	if cfg.MQTT.Broker != "" {
		sink, err := audit.NewMQTTSink(audit.MQTTConfig{
			Broker: cfg.MQTT.Broker,
			Topic:  cfg.MQTT.Topic,
			QoS:    byte(cfg.MQTT.QoS),
		}, logger)
		if err != nil {
			return err
		}
		defer sink.Close()
		mirrors = append(mirrors, sink)
	}
	auditLog := audit.New(os.Stdout, cfg.Format(), logger, mirrors...)

	srv, err := server.New(server.Options{
		QueueSize:  cfg.QueueSize,
		Workers:    cfg.Workers,
		Policy:     cfg.QueuePolicy(),
		MaxPayload: cfg.MaxPayloadBytes,
	}, auditLog, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.ListenAndServe(ctx, cfg.Addr())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
