package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironsheep/image-queue-server/internal/protocol"
)

var (
	// ErrRejected is returned when the server answers with a rejection.
	ErrRejected = errors.New("request rejected")

	// ErrClosed is returned for requests on a client whose connection ended.
	ErrClosed = errors.New("client closed")
)

// Call is one request in flight.
type Call struct {
	Request  protocol.Request
	Response protocol.Response

	// Payload is the image returned by a completed IMG_RETRIEVE.
	Payload []byte

	// Err is set when no response could be read for the request.
	Err error

	done chan struct{}
}

// Done is closed once the call has a response or has failed.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call finishes or ctx is done and returns the call's
// error. A rejection is reported as ErrRejected.
func (c *Call) Wait(ctx context.Context) error {
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if c.Err != nil {
		return c.Err
	}
	if c.Response.Ack != protocol.AckCompleted {
		return fmt.Errorf("%w: request %d (%s)", ErrRejected, c.Request.ID, c.Request.Op)
	}
	return nil
}

func (c *Call) finish() {
	close(c.done)
}

// Client is a connection to the image queue server.
type Client struct {
	conn       net.Conn
	in         *bufio.Reader
	maxPayload int64
	now        func() time.Time
	logger     zerolog.Logger

	wmu sync.Mutex
	w   *bufio.Writer

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*Call
	err     error
	done    chan struct{}
}

// Dial connects to the server at addr.
func Dial(ctx context.Context, addr string, logger zerolog.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return New(conn, logger), nil
}

// New wraps an established connection and starts reading responses from it.
func New(conn net.Conn, logger zerolog.Logger) *Client {
	c := &Client{
		conn:       conn,
		in:         bufio.NewReader(conn),
		w:          bufio.NewWriter(conn),
		maxPayload: protocol.DefaultMaxPayload,
		now:        time.Now,
		logger:     logger.With().Str("layer", "client").Logger(),
		pending:    make(map[uint64]*Call),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Go sends req without waiting for the response. A zero req.ID is replaced
// by the next unused id and a zero SentAt by the current time. payload is
// only sent for IMG_REGISTER.
func (c *Client) Go(req protocol.Request, payload []byte) (*Call, error) {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	if req.ID == 0 {
		c.nextID++
		req.ID = c.nextID
	} else if req.ID > c.nextID {
		c.nextID = req.ID
	}
	if _, dup := c.pending[req.ID]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("request %d is already in flight", req.ID)
	}
	if req.SentAt.IsZero() {
		req.SentAt = c.now()
	}
	call := &Call{Request: req, done: make(chan struct{})}
	c.pending[req.ID] = call
	c.mu.Unlock()

	if err := c.write(req, payload); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return nil, err
	}
	return call, nil
}

func (c *Client) write(req protocol.Request, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := protocol.WriteRequest(c.w, req); err != nil {
		return err
	}
	if req.Op == protocol.OpRegister {
		if err := protocol.WritePayload(c.w, payload); err != nil {
			return err
		}
	}
	return c.w.Flush()
}

// Do sends req and waits for its response.
func (c *Client) Do(ctx context.Context, req protocol.Request, payload []byte) (*Call, error) {
	call, err := c.Go(req, payload)
	if err != nil {
		return nil, err
	}
	return call, call.Wait(ctx)
}

// Register uploads an encoded image and returns its handle.
func (c *Client) Register(ctx context.Context, data []byte) (uint64, error) {
	call, err := c.Do(ctx, protocol.Request{Op: protocol.OpRegister}, data)
	if err != nil {
		return 0, err
	}
	return call.Response.ImageID, nil
}

// Retrieve downloads the image stored under handle.
func (c *Client) Retrieve(ctx context.Context, handle uint64) ([]byte, error) {
	call, err := c.Do(ctx, protocol.Request{Op: protocol.OpRetrieve, ImageID: handle}, nil)
	if err != nil {
		return nil, err
	}
	return call.Payload, nil
}

// Transform runs op on the image under handle and returns the handle of the
// result.
func (c *Client) Transform(ctx context.Context, op protocol.Op, handle uint64, overwrite bool) (uint64, error) {
	req := protocol.Request{Op: op, ImageID: handle, Overwrite: overwrite}
	call, err := c.Do(ctx, req, nil)
	if err != nil {
		return 0, err
	}
	return call.Response.ImageID, nil
}

// Close closes the connection and fails every request still in flight.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	err := c.readResponses()

	c.mu.Lock()
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		err = ErrClosed
	} else {
		c.logger.Debug().Err(err).Msg("response reader stopped")
	}
	c.err = err
	pending := c.pending
	c.pending = make(map[uint64]*Call)
	c.mu.Unlock()

	for _, call := range pending {
		call.Err = err
		call.finish()
	}
	close(c.done)
}

func (c *Client) readResponses() error {
	for {
		resp, err := protocol.ReadResponse(c.in)
		if err != nil {
			return err
		}

		c.mu.Lock()
		call := c.pending[resp.RequestID]
		delete(c.pending, resp.RequestID)
		c.mu.Unlock()
		if call == nil {
			return fmt.Errorf("response for unknown request %d", resp.RequestID)
		}

		call.Response = resp
		if call.Request.Op == protocol.OpRetrieve && resp.Ack == protocol.AckCompleted {
			call.Payload, err = protocol.ReadPayload(c.in, c.maxPayload)
			if err != nil {
				call.Err = err
				call.finish()
				return err
			}
		}
		call.finish()
	}
}
