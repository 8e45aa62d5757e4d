package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironsheep/image-queue-server/internal/audit"
	"github.com/ironsheep/image-queue-server/internal/imaging"
	"github.com/ironsheep/image-queue-server/internal/protocol"
	"github.com/ironsheep/image-queue-server/internal/queue"
)

// Options configures every session a Server creates.
type Options struct {
	// QueueSize is the capacity of each session's queue. Required.
	QueueSize int

	// Workers is the number of workers per session. Defaults to 1.
	Workers int

	// Policy picks which queued job a worker takes next. Defaults to FIFO.
	Policy queue.Policy

	// MaxPayload bounds one image payload in bytes. Defaults to
	// protocol.DefaultMaxPayload.
	MaxPayload int64

	// Codec converts between payloads and images. Defaults to BMPCodec.
	Codec imaging.Codec

	// Kernels maps ops to transforms. Defaults to DefaultKernels().
	Kernels map[protocol.Op]imaging.Kernel

	// Clock stamps request timestamps. Defaults to time.Now.
	Clock func() time.Time

	// WorkerStart, when set, runs on each worker of a new session before it
	// takes any job. An error refuses the connection.
	WorkerStart func(workerID int) error
}

func (o *Options) setDefaults() error {
	if o.QueueSize < 1 {
		return fmt.Errorf("queue size must be >= 1, got %d", o.QueueSize)
	}
	if o.Workers == 0 {
		o.Workers = 1
	}
	if o.Workers < 1 {
		return fmt.Errorf("worker count must be >= 1, got %d", o.Workers)
	}
	if o.MaxPayload <= 0 {
		o.MaxPayload = protocol.DefaultMaxPayload
	}
	if o.Codec == nil {
		o.Codec = imaging.BMPCodec{}
	}
	if o.Kernels == nil {
		o.Kernels = DefaultKernels()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return nil
}

// Server accepts client connections and serves them one at a time.
type Server struct {
	opts   Options
	audit  *audit.Log
	base   zerolog.Logger
	logger zerolog.Logger
}

// New creates a server. Audit lines of every session go to auditLog.
func New(opts Options, auditLog *audit.Log, logger zerolog.Logger) (*Server, error) {
	if auditLog == nil {
		return nil, errors.New("audit log is required")
	}
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	return &Server{
		opts:   opts,
		audit:  auditLog,
		base:   logger,
		logger: logger.With().Str("layer", "server").Logger(),
	}, nil
}

// ListenAndServe listens on the TCP address addr and serves connections until
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and serves each to completion before
// accepting the next. It closes ln and returns nil once ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()
	defer ln.Close()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info().Msg("server stopped")
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		// Session failures end that connection only.
		_ = s.ServeConn(ctx, conn)
		if ctx.Err() != nil {
			s.logger.Info().Msg("server stopped")
			return nil
		}
	}
}

// ServeConn runs a session on conn and returns when it ends.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	sess, err := s.newSession(conn)
	if err != nil {
		conn.Close()
		s.logger.Error().Err(err).Msg("failed to create session")
		return err
	}
	return sess.Serve(ctx)
}
