package protocol

import "time"

// Meta is a request plus the timestamps recorded while the server handles it.
//
// Received is set as soon as the request is read off the stream, Started when
// a worker dequeues it and Completed when processing finishes. A request that
// is never admitted only carries Received.
type Meta struct {
	Request

	Received  time.Time
	Started   time.Time
	Completed time.Time
}

// NewMeta wraps req and stamps its receipt time.
func NewMeta(req Request, received time.Time) *Meta {
	return &Meta{Request: req, Received: received}
}
