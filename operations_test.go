package headless

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"testing"
	"time"

	"github.com/gogpu/headless/backend/software"
)

// recordMandelbrot records the Mandelbrot dispatch and copy for a
// size×size image on the main queue.
func recordMandelbrot(t *testing.T, dc *Context, size int) (*CommandBuffer, *HostBuffer) {
	t.Helper()
	img, err := dc.CreateImage(size, size, FormatRGBA8Unorm, UsageStorage|UsageCopySrc)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(img.Release)
	buf, err := dc.CreateHostBuffer(size*size*4, AccessHostRead)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(buf.Release)
	p, err := dc.BuildComputePipeline(MandelbrotProgram(), MandelbrotLayout)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Release)
	set, err := dc.Bind(p, ImageBinding(0, img))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(set.Release)

	cb, err := dc.Record(nil).DispatchOver(p, set, img).CopyImageToBuffer(img, buf).Finish()
	if err != nil {
		t.Fatal(err)
	}
	return cb, buf
}

func TestMandelbrotSizes(t *testing.T) {
	dc := newContext(t)
	for _, size := range []int{8, 16, 64, 104} {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		img, err := RenderMandelbrot(ctx, dc, size)
		cancel()
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if b := img.Bounds(); b.Dx() != size || b.Dy() != size {
			t.Errorf("size %d: bounds %v", size, b)
		}
		if len(img.Pix) != size*size*4 {
			t.Errorf("size %d: %d bytes, want %d", size, len(img.Pix), size*size*4)
		}
	}
}

func TestMandelbrotPixels(t *testing.T) {
	dc := newContext(t)
	img, err := RenderMandelbrot(context.Background(), dc, 64)
	if err != nil {
		t.Fatal(err)
	}
	// The image center maps to c = (-1, 0), inside the set: the loop runs
	// to completion.
	if got := img.RGBAAt(32, 32); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("center = %v, want white", got)
	}
	// The top-left corner escapes after a few iterations.
	got := img.RGBAAt(0, 0)
	if got.R > 16 || got.R != got.G || got.G != got.B || got.A != 255 {
		t.Errorf("corner = %v, want near-black gray", got)
	}
}

func TestMandelbrotDeterministic(t *testing.T) {
	dc := newContext(t)
	a, err := RenderMandelbrot(context.Background(), dc, 64)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RenderMandelbrot(context.Background(), newContext(t), 64)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("two runs produced different images")
	}
}

func TestMandelbrotDedicatedQueue(t *testing.T) {
	dc := newContext(t, WithDedicatedQueues())
	a, err := RenderMandelbrot(context.Background(), dc, 32)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RenderMandelbrot(context.Background(), newContext(t), 32)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("dedicated compute queue produced a different image")
	}
}

func TestMandelbrotIndivisibleSize(t *testing.T) {
	dc := newContext(t)
	dev := softwareDevice(t, dc)

	for _, size := range []int{1, 12, 100} {
		_, err := RenderMandelbrot(context.Background(), dc, size)
		if !errors.Is(err, ErrRecordingFailed) {
			t.Errorf("size %d: err = %v, want ErrRecordingFailed", size, err)
		}
	}
	if n := dev.Submissions(); n != 0 {
		t.Errorf("submissions = %d, want 0", n)
	}
	if n := dev.LiveObjects(); n != 0 {
		t.Errorf("%d objects leaked", n)
	}
}

func TestDispatchMustCoverStorageImage(t *testing.T) {
	dc := newContext(t)
	p, err := dc.BuildComputePipeline(MandelbrotProgram(), MandelbrotLayout)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()

	tests := []struct {
		name   string
		size   int
		groups [3]uint32
		ok     bool
	}{
		{"exact", 8, [3]uint32{1, 1, 1}, true},
		{"exact 2x2", 16, [3]uint32{2, 2, 1}, true},
		{"indivisible", 12, [3]uint32{1, 1, 1}, false},
		{"too few groups", 16, [3]uint32{1, 2, 1}, false},
		{"too many groups", 8, [3]uint32{2, 1, 1}, false},
		{"zero depth", 8, [3]uint32{1, 1, 0}, false},
		{"zero width", 8, [3]uint32{0, 1, 1}, false},
		{"two layers", 8, [3]uint32{1, 1, 2}, false},
		{"wrapping group count", 8, [3]uint32{1<<29 + 1, 1, 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := dc.CreateImage(tt.size, tt.size, FormatRGBA8Unorm, UsageStorage|UsageCopySrc)
			if err != nil {
				t.Fatal(err)
			}
			defer img.Release()
			set, err := dc.Bind(p, ImageBinding(0, img))
			if err != nil {
				t.Fatal(err)
			}
			defer set.Release()

			cb, err := dc.Record(nil).Dispatch(p, set, tt.groups).Finish()
			if tt.ok {
				if err != nil {
					t.Fatalf("Finish: %v", err)
				}
				cb.Release()
				return
			}
			if !errors.Is(err, ErrRecordingFailed) {
				t.Errorf("err = %v, want ErrRecordingFailed", err)
			}
			if got := p.refs.Load(); got != 1 {
				t.Errorf("pipeline refs = %d, want 1", got)
			}
		})
	}
}

func TestMandelbrotZeroSize(t *testing.T) {
	dc := newContext(t)
	_, err := RenderMandelbrot(context.Background(), dc, 0)
	if !errors.Is(err, ErrAllocationFailed) {
		t.Fatalf("err = %v, want ErrAllocationFailed", err)
	}
	var ae *AllocationError
	if !errors.As(err, &ae) {
		t.Errorf("err = %v, want an *AllocationError", err)
	}
}

func TestReadbackWithoutPriorWait(t *testing.T) {
	dc := newContext(t)

	cb, buf := recordMandelbrot(t, dc, 32)
	fence, err := dc.MainQueue().Submit(cb)
	if err != nil {
		t.Fatal(err)
	}
	defer fence.Release()
	direct, err := Readback(context.Background(), buf, fence)
	if err != nil {
		t.Fatal(err)
	}

	cb2, buf2 := recordMandelbrot(t, dc, 32)
	fence2, err := dc.MainQueue().Submit(cb2)
	if err != nil {
		t.Fatal(err)
	}
	defer fence2.Release()
	if err := fence2.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	waited, err := Readback(context.Background(), buf2, fence2)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(direct, waited) {
		t.Error("readback without a prior wait differs from readback after a wait")
	}
}

func TestWaitTwice(t *testing.T) {
	dc := newContext(t)
	cb, _ := recordMandelbrot(t, dc, 16)
	fence, err := dc.MainQueue().Submit(cb)
	if err != nil {
		t.Fatal(err)
	}
	defer fence.Release()

	if err := fence.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if !fence.Signaled() {
		t.Fatal("fence not signaled after Wait")
	}
	// A signaled fence must not consult the context at all.
	done, cancel := context.WithCancel(context.Background())
	cancel()
	if err := fence.Wait(done); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
}

func TestTriangle(t *testing.T) {
	dc := newContext(t)
	const size = 64
	img, err := RenderTriangle(context.Background(), dc, size)
	if err != nil {
		t.Fatal(err)
	}

	blue := color.RGBA{0, 0, 255, 255}
	red := color.RGBA{255, 0, 0, 255}
	for _, c := range [][2]int{{0, 0}, {size - 1, 0}, {0, size - 1}, {size - 1, size - 1}} {
		if got := img.RGBAAt(c[0], c[1]); got != blue {
			t.Errorf("corner %v = %v, want %v", c, got, blue)
		}
	}
	// Centroid (0, -1/12) in NDC lands on pixel (32, 34).
	if got := img.RGBAAt(32, 34); got != red {
		t.Errorf("centroid = %v, want %v", got, red)
	}
}

func TestDrawTriangleCustom(t *testing.T) {
	dc := newContext(t)
	// A triangle covering the left half of the image.
	verts := []float32{-1, -1, -1, 3, 0, -1}
	img, err := DrawTriangle(context.Background(), dc, 16, verts, Color{G: 1, A: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := img.RGBAAt(2, 8); got != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("left = %v, want red", got)
	}
	if got := img.RGBAAt(14, 8); got != (color.RGBA{0, 255, 0, 255}) {
		t.Errorf("right = %v, want green", got)
	}
}

func TestBindingCountMismatch(t *testing.T) {
	dc := newContext(t)
	dev := softwareDevice(t, dc)

	p, err := dc.BuildComputePipeline(MandelbrotProgram(), MandelbrotLayout)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()
	a, err := dc.CreateImage(8, 8, FormatRGBA8Unorm, UsageStorage)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()
	b, err := dc.CreateImage(8, 8, FormatRGBA8Unorm, UsageStorage)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()

	for _, entries := range [][]Binding{
		nil,
		{ImageBinding(0, a), ImageBinding(1, b)},
	} {
		_, err := dc.Bind(p, entries...)
		if !errors.Is(err, ErrBindingMismatch) {
			t.Errorf("%d entries: err = %v, want ErrBindingMismatch", len(entries), err)
		}
	}
	if n := dev.LiveBindGroups(); n != 0 {
		t.Errorf("live bind groups = %d, want 0", n)
	}
}

func TestWaitTimeout(t *testing.T) {
	name := useBackend(t, software.WithLatency(300*time.Millisecond))
	dc := newContext(t, WithBackend(name))

	cb, buf := recordMandelbrot(t, dc, 16)
	fence, err := dc.MainQueue().Submit(cb)
	if err != nil {
		t.Fatal(err)
	}
	defer fence.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := fence.Wait(ctx); !errors.Is(err, ErrTimeoutExceeded) {
		t.Fatalf("Wait = %v, want ErrTimeoutExceeded", err)
	}
	if fence.Signaled() {
		t.Fatal("fence signaled before the work ran")
	}

	// The submission stays pending and can be waited on again.
	data, err := Readback(context.Background(), buf, fence)
	if err != nil {
		t.Fatalf("Readback after timeout: %v", err)
	}
	if len(data) != 16*16*4 {
		t.Errorf("read %d bytes", len(data))
	}
}

func TestConfigWaitTimeout(t *testing.T) {
	name := useBackend(t, software.WithLatency(300*time.Millisecond))
	dc := newContext(t, WithBackend(name), WithWaitTimeout(20*time.Millisecond))

	_, err := RenderMandelbrot(context.Background(), dc, 16)
	if !errors.Is(err, ErrTimeoutExceeded) {
		t.Fatalf("err = %v, want ErrTimeoutExceeded", err)
	}
	var e *Error
	if errors.As(err, &e) && e.Stage != StageReadback {
		t.Errorf("stage = %s, want readback", e.Stage)
	}
}

func TestDeviceLost(t *testing.T) {
	dc := newContext(t)
	dev := softwareDevice(t, dc)

	cb, _ := recordMandelbrot(t, dc, 16)
	dev.Lose()
	if _, err := dc.MainQueue().Submit(cb); !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("Submit = %v, want ErrDeviceLost", err)
	}
	if !dc.Lost() {
		t.Fatal("context not marked lost")
	}
	if _, err := dc.CreateHostBuffer(16, AccessHostRead); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("CreateHostBuffer = %v, want ErrDeviceLost", err)
	}
	if _, err := RenderTriangle(context.Background(), dc, 16); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("RenderTriangle = %v, want ErrDeviceLost", err)
	}
}

func TestDeviceLostWhileWaiting(t *testing.T) {
	name := useBackend(t, software.WithLatency(100*time.Millisecond))
	dc := newContext(t, WithBackend(name))
	dev := softwareDevice(t, dc)

	cb, buf := recordMandelbrot(t, dc, 16)
	fence, err := dc.MainQueue().Submit(cb)
	if err != nil {
		t.Fatal(err)
	}
	defer fence.Release()
	dev.Lose()

	if _, err := Readback(context.Background(), buf, fence); !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("Readback = %v, want ErrDeviceLost", err)
	}
	if !dc.Lost() {
		t.Error("context not marked lost")
	}
}
