package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/ironsheep/image-queue-server/internal/client"
)

// Version information - set by ldflags during build
var Version = "dev"

func main() {
	fs := pflag.NewFlagSet("image-client", pflag.ContinueOnError)
	addr := fs.StringP("addr", "a", "localhost:2222", "server address")
	script := fs.StringP("script", "s", "", "YAML workload script to run (required)")
	level := fs.String("log-level", "info", "log level: debug, info, warn, error")
	version := fs.BoolP("version", "v", false, "print version information")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: image-client --script <file> [--addr host:port]")
		fmt.Fprintln(os.Stderr)
		fmt.Fprint(os.Stderr, fs.FlagUsages())
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if *version {
		fmt.Printf("image-client %s\n", Version)
		return
	}
	if *script == "" {
		fs.Usage()
		os.Exit(1)
	}

	lvl, err := zerolog.ParseLevel(*level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "image-client: %v\n", err)
		os.Exit(1)
	}
	logger := zerolog.New(zerolog.NewConsoleWriter()).Level(lvl).With().Timestamp().Logger()

	s, err := client.LoadScriptFile(*script)
	if err != nil {
		logger.Error().Err(err).Msg("invalid script")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, *addr, logger)
	if err != nil {
		logger.Error().Err(err).Msg("connection failed")
		os.Exit(1)
	}
	defer c.Close()

	rep, err := client.Run(ctx, c, s, logger)
	if rep != nil {
		logger.Info().
			Int("sent", rep.Sent).
			Int("completed", rep.Completed).
			Int("rejected", rep.Rejected).
			Int("failed", rep.Failed).
			Msg("workload finished")
	}
	if err != nil {
		logger.Error().Err(err).Msg("workload aborted")
		c.Close()
		os.Exit(1)
	}
}
