package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Op identifies the image operation requested by the client.
type Op uint8

const (
	OpRegister Op = iota
	OpRetrieve
	OpRotate90CW
	OpBlur
	OpSharpen
	OpVerticalEdges
	OpHorizontalEdges
)

var opNames = [...]string{
	OpRegister:        "IMG_REGISTER",
	OpRetrieve:        "IMG_RETRIEVE",
	OpRotate90CW:      "IMG_ROT90CLKW",
	OpBlur:            "IMG_BLUR",
	OpSharpen:         "IMG_SHARPEN",
	OpVerticalEdges:   "IMG_VERTEDGES",
	OpHorizontalEdges: "IMG_HORIZEDGES",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("IMG_UNKNOWN(%d)", uint8(o))
}

// Valid reports whether o is one of the defined operation codes.
func (o Op) Valid() bool {
	return int(o) < len(opNames)
}

// ParseOp converts an operation name such as "IMG_BLUR" or "blur" to an Op.
func ParseOp(name string) (Op, error) {
	u := strings.ToUpper(name)
	for i, n := range opNames {
		if n == u || n == "IMG_"+u {
			return Op(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation: %s", name)
}

// Ack is the outcome code carried by a Response.
type Ack uint8

const (
	AckCompleted Ack = 0
	AckRejected  Ack = 1
)

func (a Ack) String() string {
	switch a {
	case AckCompleted:
		return "COMPLETED"
	case AckRejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("ACK(%d)", uint8(a))
	}
}

const (
	// RequestSize is the encoded size of a Request in bytes.
	RequestSize = 8 + 1 + 1 + 8 + 16 + 16

	// ResponseSize is the encoded size of a Response in bytes.
	ResponseSize = 8 + 8 + 1
)

// Request is a single client request as it appears on the wire.
type Request struct {
	ID        uint64
	Op        Op
	Overwrite bool
	ImageID   uint64

	// SentAt is stamped by the client when the request is sent.
	SentAt time.Time

	// Length is the processing time declared by the client. The server only
	// uses it for audit lines and for the SJN dequeue order.
	Length time.Duration
}

// Response is the fixed-size reply to a Request.
type Response struct {
	RequestID uint64
	ImageID   uint64
	Ack       Ack
}

// Rejected builds a rejection response for the given request id.
func Rejected(requestID uint64) Response {
	return Response{RequestID: requestID, Ack: AckRejected}
}

// MarshalBinary encodes the request into its fixed-size wire form.
func (r Request) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RequestSize)
	binary.BigEndian.PutUint64(buf[0:], r.ID)
	buf[8] = byte(r.Op)
	if r.Overwrite {
		buf[9] = 1
	}
	binary.BigEndian.PutUint64(buf[10:], r.ImageID)
	putTimespec(buf[18:], r.SentAt.Unix(), int64(r.SentAt.Nanosecond()))
	putTimespec(buf[34:], int64(r.Length/time.Second), int64(r.Length%time.Second))
	return buf, nil
}

// UnmarshalBinary decodes a request from exactly RequestSize bytes.
func (r *Request) UnmarshalBinary(buf []byte) error {
	if len(buf) != RequestSize {
		return fmt.Errorf("request must be %d bytes, got %d", RequestSize, len(buf))
	}
	r.ID = binary.BigEndian.Uint64(buf[0:])
	r.Op = Op(buf[8])
	r.Overwrite = buf[9] != 0
	r.ImageID = binary.BigEndian.Uint64(buf[10:])
	sec, nsec := timespec(buf[18:])
	r.SentAt = time.Unix(sec, nsec)
	sec, nsec = timespec(buf[34:])
	r.Length = lengthFromTimespec(sec, nsec)
	return nil
}

// lengthFromTimespec converts a declared processing time to a Duration.
// Lengths too long for a Duration saturate at math.MaxInt64 and negative
// lengths are read as zero, so the SJN order and audit lines stay monotonic
// in the declared value.
func lengthFromTimespec(sec, nsec int64) time.Duration {
	const maxSec = math.MaxInt64 / int64(time.Second)
	if sec < 0 || (sec == 0 && nsec <= 0) {
		return 0
	}
	if sec > maxSec {
		return math.MaxInt64
	}
	d := time.Duration(sec) * time.Second
	n := time.Duration(nsec)
	switch {
	case n > 0 && d > math.MaxInt64-n:
		return math.MaxInt64
	case d+n < 0:
		return 0
	}
	return d + n
}

// MarshalBinary encodes the response into its fixed-size wire form.
func (r Response) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ResponseSize)
	binary.BigEndian.PutUint64(buf[0:], r.RequestID)
	binary.BigEndian.PutUint64(buf[8:], r.ImageID)
	buf[16] = byte(r.Ack)
	return buf, nil
}

// UnmarshalBinary decodes a response from exactly ResponseSize bytes.
func (r *Response) UnmarshalBinary(buf []byte) error {
	if len(buf) != ResponseSize {
		return fmt.Errorf("response must be %d bytes, got %d", ResponseSize, len(buf))
	}
	r.RequestID = binary.BigEndian.Uint64(buf[0:])
	r.ImageID = binary.BigEndian.Uint64(buf[8:])
	r.Ack = Ack(buf[16])
	return nil
}

// ReadRequest reads one fixed-size request from r. A short read is reported
// as an error; callers treat any error as the end of the connection.
func ReadRequest(r io.Reader) (Request, error) {
	var buf [RequestSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Request{}, errors.Wrap(err, "read request")
	}
	var req Request
	if err := req.UnmarshalBinary(buf[:]); err != nil {
		return Request{}, errors.Wrap(err, "decode request")
	}
	return req, nil
}

// WriteRequest writes one fixed-size request to w.
func WriteRequest(w io.Writer, req Request) error {
	buf, _ := req.MarshalBinary()
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "write request")
	}
	return nil
}

// ReadResponse reads one fixed-size response from r.
func ReadResponse(r io.Reader) (Response, error) {
	var buf [ResponseSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Response{}, errors.Wrap(err, "read response")
	}
	var resp Response
	if err := resp.UnmarshalBinary(buf[:]); err != nil {
		return Response{}, errors.Wrap(err, "decode response")
	}
	return resp, nil
}

// WriteResponse writes one fixed-size response to w.
func WriteResponse(w io.Writer, resp Response) error {
	buf, _ := resp.MarshalBinary()
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "write response")
	}
	return nil
}

func putTimespec(buf []byte, sec, nsec int64) {
	binary.BigEndian.PutUint64(buf[0:], uint64(sec))
	binary.BigEndian.PutUint64(buf[8:], uint64(nsec))
}

func timespec(buf []byte) (sec, nsec int64) {
	return int64(binary.BigEndian.Uint64(buf[0:])), int64(binary.BigEndian.Uint64(buf[8:]))
}
