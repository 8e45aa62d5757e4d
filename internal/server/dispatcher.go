package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironsheep/image-queue-server/internal/audit"
	"github.com/ironsheep/image-queue-server/internal/imaging"
	"github.com/ironsheep/image-queue-server/internal/protocol"
	"github.com/ironsheep/image-queue-server/internal/queue"
)

// ErrUnsupportedOp is the rejection cause for ops the workers cannot run.
var ErrUnsupportedOp = errors.New("unsupported operation")

// DefaultKernels maps every transform op to its kernel.
func DefaultKernels() map[protocol.Op]imaging.Kernel {
	return map[protocol.Op]imaging.Kernel{
		protocol.OpRotate90CW:      imaging.Rotate90CW,
		protocol.OpBlur:            imaging.Blur,
		protocol.OpSharpen:         imaging.Sharpen,
		protocol.OpVerticalEdges:   imaging.VerticalEdges,
		protocol.OpHorizontalEdges: imaging.HorizontalEdges,
	}
}

// Outcome is the result of processing one job.
type Outcome struct {
	Response protocol.Response

	// Payload follows the response on the wire when non-nil.
	Payload []byte

	Record audit.Record
}

// Dispatcher executes dequeued jobs against a session's store.
type Dispatcher struct {
	store   *imaging.Store
	codec   imaging.Codec
	kernels map[protocol.Op]imaging.Kernel
	now     func() time.Time

	out    *responder
	audit  *audit.Log
	queue  *queue.Queue
	logger zerolog.Logger
}

// Process runs job and stamps its completion time. It never writes to the
// connection.
//
// IMG_RETRIEVE completes with the encoded image as payload. Transform ops
// complete with the handle of the result: the source handle when Overwrite is
// set, a newly minted one otherwise. Any failure, an unknown handle or op, or
// IMG_REGISTER reaching a worker yields a rejection and leaves the store
// untouched.
//
// A panic anywhere in processing, including inside the codec, is reported
// as a rejection.
func (d *Dispatcher) Process(workerID int, job *protocol.Meta) Outcome {
	handle, payload, err := d.safeRun(job)
	job.Completed = d.now()

	rec := audit.Record{Worker: workerID, Job: *job}
	if err != nil {
		d.logger.Debug().
			Err(err).
			Int("worker", workerID).
			Uint64("request_id", job.ID).
			Stringer("op", job.Op).
			Msg("request rejected")
		rec.Outcome = audit.Rejected
		return Outcome{Response: protocol.Rejected(job.ID), Record: rec}
	}

	rec.Outcome = audit.Completed
	rec.ResultImage = handle
	return Outcome{
		Response: protocol.Response{RequestID: job.ID, ImageID: handle, Ack: protocol.AckCompleted},
		Payload:  payload,
		Record:   rec,
	}
}

func (d *Dispatcher) safeRun(job *protocol.Meta) (handle uint64, payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Uint64("request_id", job.ID).
				Stringer("op", job.Op).
				Interface("panic", r).
				Msg("request processing panicked")
			handle, payload, err = 0, nil, fmt.Errorf("processing panicked: %v", r)
		}
	}()
	return d.run(job)
}

func (d *Dispatcher) run(job *protocol.Meta) (uint64, []byte, error) {
	if job.Op == protocol.OpRetrieve {
		img, err := d.store.Get(job.ImageID)
		if err != nil {
			return 0, nil, err
		}
		data, err := d.codec.Encode(img)
		if err != nil {
			return 0, nil, err
		}
		return job.ImageID, data, nil
	}

	kernel, ok := d.kernels[job.Op]
	if !ok {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, job.Op)
	}

	src, err := d.store.Get(job.ImageID)
	if err != nil {
		return 0, nil, err
	}

	result, err := imaging.Apply(kernel, src)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to apply %s: %w", job.Op, err)
	}

	if job.Overwrite {
		if err := d.store.Replace(job.ImageID, result); err != nil {
			return 0, nil, err
		}
		return job.ImageID, nil, nil
	}

	h, err := d.store.Insert(result)
	if err != nil {
		return 0, nil, err
	}
	return h, nil, nil
}

// Handle processes job and publishes its outcome: the response first, then
// the audit line, then a snapshot of what is still queued.
func (d *Dispatcher) Handle(workerID int, job *protocol.Meta) {
	out := d.Process(workerID, job)
	if err := d.out.send(out.Response, out.Payload); err != nil {
		d.logger.Debug().
			Err(err).
			Int("worker", workerID).
			Uint64("request_id", job.ID).
			Msg("failed to send response")
	}
	d.audit.Record(out.Record)
	d.audit.Snapshot(d.queue.Snapshot())
}
