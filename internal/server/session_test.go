package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ironsheep/image-queue-server/internal/audit"
	"github.com/ironsheep/image-queue-server/internal/client"
	"github.com/ironsheep/image-queue-server/internal/imaging"
	"github.com/ironsheep/image-queue-server/internal/protocol"
)

func TestSession_RegisterRetrieveRoundTrip(t *testing.T) {
	h := newHarness(t, Options{QueueSize: 4})
	data := testImage(t)

	handle := h.register(data)
	if handle != 1 {
		t.Errorf("first handle = %d, want 1", handle)
	}
	if got := h.retrieve(handle); !bytes.Equal(got, data) {
		t.Errorf("retrieved %d bytes, want the %d registered bytes", len(got), len(data))
	}

	if second := h.register(data); second != 2 {
		t.Errorf("second handle = %d, want 2", second)
	}

	if err := h.finish(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	lines := h.audit.lines()
	if indexOf(lines, "R1:") < 0 {
		t.Errorf("missing router line for the register: %q", lines)
	}
	if indexOf(lines, "T0 R2:") < 0 {
		t.Errorf("missing worker line for the retrieve: %q", lines)
	}
}

func TestSession_TransformNewHandle(t *testing.T) {
	h := newHarness(t, Options{QueueSize: 4})
	data := testImage(t)
	src := h.register(data)

	out, err := h.client.Transform(context.Background(), protocol.OpRotate90CW, src, false)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out != imaging.RegisteredCapacity+1 {
		t.Errorf("result handle = %d, want %d", out, imaging.RegisteredCapacity+1)
	}
	if n := h.sess.store.Len(); n != 2 {
		t.Errorf("store holds %d images, want 2", n)
	}
	if got := h.retrieve(src); !bytes.Equal(got, data) {
		t.Error("source image changed by a non-overwriting transform")
	}

	rotated, err := imaging.BMPCodec{}.Decode(h.retrieve(out))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if rotated.Width() != 8 || rotated.Height() != 12 {
		t.Errorf("rotated size = %dx%d, want 8x12", rotated.Width(), rotated.Height())
	}
}

func TestSession_TransformOverwrite(t *testing.T) {
	h := newHarness(t, Options{QueueSize: 4})
	data := testImage(t)
	src := h.register(data)

	out, err := h.client.Transform(context.Background(), protocol.OpBlur, src, true)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out != src {
		t.Errorf("overwrite returned handle %d, want %d", out, src)
	}
	if n := h.sess.store.Len(); n != 1 {
		t.Errorf("store holds %d images, want 1", n)
	}
	if got := h.retrieve(src); bytes.Equal(got, data) {
		t.Error("overwrite left the original bytes in place")
	}
}

func TestSession_RejectionsLeaveStoreUnchanged(t *testing.T) {
	failing := func(image.Image) (image.Image, error) {
		return nil, errors.New("kernel failed")
	}
	panicking := func(image.Image) (image.Image, error) {
		panic("kernel blew up")
	}
	kernels := DefaultKernels()
	kernels[protocol.OpSharpen] = failing
	kernels[protocol.OpVerticalEdges] = panicking

	tests := []struct {
		name string
		req  protocol.Request
	}{
		{"handle zero", protocol.Request{Op: protocol.OpBlur, ImageID: 0}},
		{"unknown handle", protocol.Request{Op: protocol.OpBlur, ImageID: 77}},
		{"unknown handle overwrite", protocol.Request{Op: protocol.OpBlur, ImageID: 77, Overwrite: true}},
		{"retrieve unknown", protocol.Request{Op: protocol.OpRetrieve, ImageID: 5}},
		{"unknown op", protocol.Request{Op: protocol.Op(42), ImageID: 1}},
		{"kernel error", protocol.Request{Op: protocol.OpSharpen, ImageID: 1, Overwrite: true}},
		{"kernel panic", protocol.Request{Op: protocol.OpVerticalEdges, ImageID: 1}},
	}

	h := newHarness(t, Options{QueueSize: 4, Kernels: kernels})
	data := testImage(t)
	h.register(data)
	before := h.sess.store.Handles()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.client.Do(context.Background(), tt.req, nil)
			if !errors.Is(err, client.ErrRejected) {
				t.Fatalf("Do = %v, want a rejection", err)
			}
			if got := h.sess.store.Handles(); !reflect.DeepEqual(got, before) {
				t.Errorf("handles = %v, want %v", got, before)
			}
		})
	}

	if got := h.retrieve(1); !bytes.Equal(got, data) {
		t.Error("image 1 changed after rejected requests")
	}
}

func TestSession_RegisterRejectsUndecodablePayload(t *testing.T) {
	h := newHarness(t, Options{QueueSize: 4})

	_, err := h.client.Register(context.Background(), []byte("definitely not an image"))
	if !errors.Is(err, client.ErrRejected) {
		t.Fatalf("Register = %v, want a rejection", err)
	}
	if n := h.sess.store.Len(); n != 0 {
		t.Errorf("store holds %d images after a rejected register", n)
	}

	// The stream is still framed: the next register goes through.
	if handle := h.register(testImage(t)); handle != 1 {
		t.Errorf("handle after rejection = %d, want 1", handle)
	}

	h.finish()
	if indexOf(h.audit.lines(), "E1:") < 0 {
		t.Errorf("missing router rejection line: %q", h.audit.lines())
	}
}

func TestSession_SingleWorkerServesInOrder(t *testing.T) {
	slow := func(src image.Image) (image.Image, error) {
		time.Sleep(time.Millisecond)
		return src, nil
	}
	kernels := map[protocol.Op]imaging.Kernel{protocol.OpBlur: slow}

	h := newHarness(t, Options{QueueSize: 16, Workers: 1, Kernels: kernels})
	src := h.register(testImage(t))

	var calls []*client.Call
	for i := 0; i < 6; i++ {
		call, err := h.client.Go(protocol.Request{Op: protocol.OpBlur, ImageID: src}, nil)
		if err != nil {
			t.Fatalf("Go: %v", err)
		}
		calls = append(calls, call)
	}

	var completed []uint64
	for _, call := range calls {
		if err := call.Wait(context.Background()); err != nil {
			t.Fatalf("request %d: %v", call.Request.ID, err)
		}
		completed = append(completed, call.Response.ImageID)
	}
	for i := 1; i < len(completed); i++ {
		if completed[i] != completed[i-1]+1 {
			t.Errorf("minted handles out of order: %v", completed)
			break
		}
	}

	h.finish()
	lines := h.audit.lines()
	last := -1
	for id := 2; id <= 7; id++ {
		i := indexOf(lines, "T0 R"+strconv.Itoa(id)+":")
		if i <= last {
			t.Fatalf("request %d logged out of order: %q", id, lines)
		}
		last = i
	}
}

func TestSession_QueueFullRejectsWithoutBlocking(t *testing.T) {
	g := newGate()
	kernels := map[protocol.Op]imaging.Kernel{protocol.OpBlur: g.kernel}
	h := newHarness(t, Options{QueueSize: 1, Workers: 1, Kernels: kernels})
	ctx := context.Background()

	reg, err := h.client.Do(ctx, protocol.Request{ID: 100, Op: protocol.OpRegister}, testImage(t))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	src := reg.Response.ImageID

	// R1 occupies the worker, R2 the only queue slot, R3 is turned away.
	r1, err := h.client.Go(protocol.Request{ID: 1, Op: protocol.OpBlur, ImageID: src, Length: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	<-g.entered

	r2, err := h.client.Go(protocol.Request{ID: 2, Op: protocol.OpBlur, ImageID: src, Length: time.Second}, nil)
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	r3, err := h.client.Go(protocol.Request{ID: 3, Op: protocol.OpBlur, ImageID: src}, nil)
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if err := r3.Wait(ctx); !errors.Is(err, client.ErrRejected) {
		t.Fatalf("R3: %v, want a rejection while the queue is full", err)
	}

	close(g.release)
	if err := r1.Wait(ctx); err != nil {
		t.Fatalf("R1: %v", err)
	}
	if err := r2.Wait(ctx); err != nil {
		t.Fatalf("R2: %v", err)
	}

	h.finish()
	lines := h.audit.lines()
	if indexOf(lines, "X3:") < 0 {
		t.Errorf("missing admission rejection for R3: %q", lines)
	}
	seq := []string{"T0 R1:", "Q:[R2]", "T0 R2:", "Q:[]"}
	last := -1
	for _, prefix := range seq {
		i := indexOf(lines, prefix)
		if i <= last {
			t.Fatalf("%q missing or out of order in %q", prefix, lines)
		}
		last = i
	}
	if g.calls.Load() != 2 {
		t.Errorf("kernel ran %d times, want 2", g.calls.Load())
	}
}

func TestSession_StopIsABarrier(t *testing.T) {
	g := newGate()
	kernels := map[protocol.Op]imaging.Kernel{protocol.OpBlur: g.kernel}
	h := newHarness(t, Options{QueueSize: 4, Workers: 1, Kernels: kernels})
	src := h.register(testImage(t))

	for i := 0; i < 3; i++ {
		if _, err := h.client.Go(protocol.Request{Op: protocol.OpBlur, ImageID: src}, nil); err != nil {
			t.Fatalf("Go: %v", err)
		}
	}
	<-g.entered

	h.client.Close()
	deadline := time.Now().Add(5 * time.Second)
	for !h.sess.queue.Closed() {
		if time.Now().After(deadline) {
			t.Fatal("queue was not closed after disconnect")
		}
		time.Sleep(time.Millisecond)
	}
	close(g.release)

	if err := h.finish(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	calls := g.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if got := g.calls.Load(); got != calls || got != 1 {
		t.Errorf("kernel ran %d times (then %d), want exactly 1", calls, got)
	}
	if _, err := h.sess.store.Get(src); !errors.Is(err, imaging.ErrStoreClosed) {
		t.Errorf("store.Get after session end = %v, want ErrStoreClosed", err)
	}
	if n := h.sess.queue.Len(); n != 0 {
		t.Errorf("queue still holds %d jobs", n)
	}
}

func TestSession_ExtendedAuditFormat(t *testing.T) {
	h := newHarnessFormat(t, Options{QueueSize: 2}, audit.Extended)
	src := h.register(testImage(t))
	if _, err := h.client.Transform(context.Background(), protocol.OpSharpen, src, true); err != nil {
		t.Fatalf("Transform: %v", err)
	}
	h.finish()

	lines := h.audit.lines()
	i := indexOf(lines, "T0 R2:")
	if i < 0 {
		t.Fatalf("missing worker line: %q", lines)
	}
	if !strings.Contains(lines[i], ",IMG_SHARPEN,1,1,1,") {
		t.Errorf("extended line = %q, want op, overwrite and both handles", lines[i])
	}
}
