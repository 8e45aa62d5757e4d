package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ironsheep/image-queue-server/internal/audit"
	"github.com/ironsheep/image-queue-server/internal/imaging"
	"github.com/ironsheep/image-queue-server/internal/protocol"
	"github.com/ironsheep/image-queue-server/internal/queue"
	"github.com/ironsheep/image-queue-server/internal/worker"
)

// Session is everything one client connection owns.
type Session struct {
	id      string
	conn    net.Conn
	in      *bufio.Reader
	out     *responder
	workers int

	store      *imaging.Store
	queue      *queue.Queue
	pool       *worker.Pool
	newPool    func(ctx context.Context) *worker.Pool
	dispatcher *Dispatcher
	audit      *audit.Log

	codec      imaging.Codec
	maxPayload int64
	now        func() time.Time
	logger     zerolog.Logger
}

func (s *Server) newSession(conn net.Conn) (*Session, error) {
	q, err := queue.New(s.opts.QueueSize, s.opts.Policy)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}

	id := uuid.NewString()
	logger := s.base.With().
		Str("session", id).
		Str("remote", remoteAddr(conn)).
		Logger()

	sess := &Session{
		id:         id,
		conn:       conn,
		in:         bufio.NewReader(conn),
		out:        newResponder(conn),
		workers:    s.opts.Workers,
		store:      imaging.NewStore(),
		queue:      q,
		audit:      s.audit,
		codec:      s.opts.Codec,
		maxPayload: s.opts.MaxPayload,
		now:        s.opts.Clock,
		logger:     logger.With().Str("layer", "session").Logger(),
	}
	sess.dispatcher = &Dispatcher{
		store:   sess.store,
		codec:   sess.codec,
		kernels: s.opts.Kernels,
		now:     sess.now,
		out:     sess.out,
		audit:   sess.audit,
		queue:   q,
		logger:  logger.With().Str("layer", "dispatch").Logger(),
	}
	sess.newPool = func(ctx context.Context) *worker.Pool {
		ready := func(workerID int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if s.opts.WorkerStart != nil {
				return s.opts.WorkerStart(workerID)
			}
			return nil
		}
		return worker.NewPool(q, sess.dispatcher, logger, worker.WithClock(sess.now), worker.WithStartHook(ready))
	}
	return sess, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// Serve runs the session until the client disconnects or ctx is cancelled.
// The connection is always closed on return. A clean disconnect returns nil.
func (s *Session) Serve(ctx context.Context) (err error) {
	defer s.conn.Close()

	// Workers refuse to start once ctx is done.
	s.pool = s.newPool(ctx)
	if err := s.pool.Start(s.workers); err != nil {
		s.store.Close()
		s.logger.Warn().Err(err).Msg("session refused")
		return err
	}
	s.logger.Info().
		Int("queue_size", s.queue.Capacity()).
		Int("workers", s.pool.Size()).
		Stringer("policy", s.queue.Policy()).
		Msg("client connected")

	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	err = s.route()
	if ctx.Err() != nil {
		err = nil
	}

	s.pool.Stop()
	if left := s.queue.Drain(); len(left) > 0 {
		ids := make([]uint64, len(left))
		for i, job := range left {
			ids[i] = job.ID
		}
		s.logger.Warn().Interface("dropped", ids).Msg("dropping queued requests on disconnect")
	}
	images := s.store.Len()
	if e := s.logger.Debug(); e.Enabled() {
		e.Uints64("handles", s.store.Handles()).Msg("releasing images")
	}
	s.store.Close()

	if err != nil {
		s.logger.Info().Err(err).Int("images", images).Msg("client connection failed")
	} else {
		s.logger.Info().Int("images", images).Msg("client disconnected")
	}
	return err
}

// route is the request router loop.
func (s *Session) route() error {
	for {
		req, err := protocol.ReadRequest(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read request: %w", err)
		}

		job := protocol.NewMeta(req, s.now())
		if req.Op == protocol.OpRegister {
			err = s.register(job)
		} else {
			err = s.admit(job)
		}
		if err != nil {
			return err
		}
	}
}

// register stores the image that follows an IMG_REGISTER request. The payload
// is consumed before anything else so a rejection keeps the stream framed.
func (s *Session) register(job *protocol.Meta) error {
	data, err := protocol.ReadPayload(s.in, s.maxPayload)
	if err != nil && !errors.Is(err, protocol.ErrPayloadTooLarge) {
		return fmt.Errorf("failed to read image payload: %w", err)
	}
	job.Started = s.now()

	var handle uint64
	if err == nil {
		var img *imaging.Image
		img, err = s.decode(data)
		if err == nil {
			handle, err = s.store.Register(img)
		}
		if err == nil {
			s.logger.Debug().
				Uint64("handle", handle).
				Int("width", img.Width()).
				Int("height", img.Height()).
				Msg("image registered")
		}
	}
	job.Completed = s.now()

	rec := audit.Record{Worker: audit.RouterID, Job: *job}
	resp := protocol.Rejected(job.ID)
	if err != nil {
		s.logger.Debug().Err(err).Uint64("request_id", job.ID).Msg("register rejected")
		rec.Outcome = audit.Rejected
	} else {
		rec.Outcome = audit.Completed
		rec.ResultImage = handle
		resp = protocol.Response{RequestID: job.ID, ImageID: handle, Ack: protocol.AckCompleted}
	}

	if err := s.out.send(resp, nil); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	s.audit.Record(rec)
	return nil
}

// decode runs the codec, turning a panic into an error so a bad payload
// cannot take the router down.
func (s *Session) decode(data []byte) (img *imaging.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("decoder panicked: %v", r)
		}
	}()
	return s.codec.Decode(data)
}

// admit queues job, rejecting it immediately when the queue is full.
func (s *Session) admit(job *protocol.Meta) error {
	err := s.queue.Enqueue(job)
	if err == nil {
		return nil
	}
	if !errors.Is(err, queue.ErrQueueFull) {
		return fmt.Errorf("failed to queue request %d: %w", job.ID, err)
	}

	if err := s.out.send(protocol.Rejected(job.ID), nil); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	s.audit.Record(audit.Record{Worker: audit.RouterID, Outcome: audit.NotAdmitted, Job: *job})
	return nil
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
