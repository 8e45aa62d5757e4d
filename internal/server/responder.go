package server

import (
	"bufio"
	"io"
	"sync"

	"github.com/ironsheep/image-queue-server/internal/protocol"
)

// responder serialises responses onto the connection.
type responder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func newResponder(w io.Writer) *responder {
	return &responder{w: bufio.NewWriter(w)}
}

// send writes resp, followed by payload when it is non-nil, and flushes.
func (r *responder) send(resp protocol.Response, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := protocol.WriteResponse(r.w, resp); err != nil {
		return err
	}
	if payload != nil {
		if err := protocol.WritePayload(r.w, payload); err != nil {
			return err
		}
	}
	return r.w.Flush()
}
