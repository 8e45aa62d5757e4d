package server

import (
	"bytes"
	"context"
	"image"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ironsheep/image-queue-server/internal/audit"
	"github.com/ironsheep/image-queue-server/internal/client"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimRight(b.buf.String(), "\n"), "\n")
}

// harness is one session served over net.Pipe with a client on the other end.
type harness struct {
	t      *testing.T
	client *client.Client
	sess   *Session
	audit  *lockedBuffer
	done   chan error
	once   sync.Once
	err    error
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	return newHarnessFormat(t, opts, audit.Standard)
}

func newHarnessFormat(t *testing.T, opts Options, format audit.Format) *harness {
	t.Helper()

	buf := &lockedBuffer{}
	srv, err := New(opts, audit.New(buf, format, zerolog.Nop()), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srvConn, cliConn := net.Pipe()
	sess, err := srv.newSession(srvConn)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}

	h := &harness{
		t:      t,
		client: client.New(cliConn, zerolog.Nop()),
		sess:   sess,
		audit:  buf,
		done:   make(chan error, 1),
	}
	go func() {
		h.done <- sess.Serve(context.Background())
	}()
	t.Cleanup(func() { h.finish() })
	return h
}

// finish disconnects the client and waits for the session to wind down.
func (h *harness) finish() error {
	h.once.Do(func() {
		h.client.Close()
		h.err = <-h.done
	})
	return h.err
}

func (h *harness) register(data []byte) uint64 {
	h.t.Helper()
	handle, err := h.client.Register(context.Background(), data)
	if err != nil {
		h.t.Fatalf("Register: %v", err)
	}
	return handle
}

func (h *harness) retrieve(handle uint64) []byte {
	h.t.Helper()
	data, err := h.client.Retrieve(context.Background(), handle)
	if err != nil {
		h.t.Fatalf("Retrieve(%d): %v", handle, err)
	}
	return data
}

// testImage returns a small encoded gradient.
func testImage(t *testing.T) []byte {
	t.Helper()
	img, err := client.GradientHex(12, 8, "#1e3a8a", "#f59e0b")
	if err != nil {
		t.Fatalf("GradientHex: %v", err)
	}
	data, err := client.EncodeBMP(img)
	if err != nil {
		t.Fatalf("EncodeBMP: %v", err)
	}
	return data
}

// gate is a kernel that blocks until released, so tests can hold a worker
// in the middle of a job.
type gate struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newGate() *gate {
	return &gate{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (g *gate) kernel(src image.Image) (image.Image, error) {
	g.calls.Add(1)
	g.entered <- struct{}{}
	<-g.release
	return src, nil
}

// indexOf returns the position of the first line starting with prefix, or -1.
func indexOf(lines []string, prefix string) int {
	for i, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return i
		}
	}
	return -1
}
