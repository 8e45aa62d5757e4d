package protocol

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// DefaultMaxPayload bounds the size of a single image payload.
const DefaultMaxPayload = 64 << 20

// ErrPayloadTooLarge is returned when a payload header announces more bytes
// than the reader is willing to accept.
var ErrPayloadTooLarge = errors.New("payload too large")

// ReadPayload reads a length-prefixed payload from r. A limit <= 0 means
// DefaultMaxPayload.
//
// The payload is always consumed in full. A payload larger than limit is
// read and discarded, and ErrPayloadTooLarge is returned with the stream
// still framed. Any other error means the stream is broken.
func ReadPayload(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxPayload
	}

	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "read payload header")
	}

	size := binary.BigEndian.Uint64(hdr[:])
	if size > uint64(limit) {
		if _, err := io.CopyN(io.Discard, r, int64(min(size, math.MaxInt64))); err != nil {
			return nil, errors.Wrap(err, "discard oversized payload")
		}
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes exceeds limit of %d", size, limit)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrap(err, "read payload body")
	}
	return data, nil
}

// WritePayload writes data to w as a length-prefixed payload.
func WritePayload(w io.Writer, data []byte) error {
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "write payload header")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "write payload body")
	}
	return nil
}
