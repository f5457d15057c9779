package driver

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// countingDevice is a minimal Device that hands out sequential IDs.
type countingDevice struct {
	next    uint64
	calls   []string
	waitErr error
}

func (d *countingDevice) id(call string) uint64 {
	d.next++
	d.calls = append(d.calls, call)
	return d.next
}

func (d *countingDevice) CreateImage(*ImageDesc) (ImageID, error) {
	return ImageID(d.id("CreateImage")), nil
}
func (d *countingDevice) DestroyImage(ImageID) { d.calls = append(d.calls, "DestroyImage") }
func (d *countingDevice) CreateBuffer(*BufferDesc) (BufferID, error) {
	return BufferID(d.id("CreateBuffer")), nil
}
func (d *countingDevice) DestroyBuffer(BufferID)                     { d.calls = append(d.calls, "DestroyBuffer") }
func (d *countingDevice) WriteBuffer(BufferID, uint64, []byte) error { return nil }
func (d *countingDevice) ReadBuffer(BufferID, uint64, []byte) error  { return nil }
func (d *countingDevice) CreateComputePipeline(*ComputePipelineDesc) (PipelineID, error) {
	return PipelineID(d.id("CreateComputePipeline")), nil
}
func (d *countingDevice) CreateRenderPipeline(*RenderPipelineDesc) (PipelineID, error) {
	return PipelineID(d.id("CreateRenderPipeline")), nil
}
func (d *countingDevice) DestroyPipeline(PipelineID) { d.calls = append(d.calls, "DestroyPipeline") }
func (d *countingDevice) CreateBindGroup(*BindGroupDesc) (BindGroupID, error) {
	return BindGroupID(d.id("CreateBindGroup")), nil
}
func (d *countingDevice) DestroyBindGroup(BindGroupID) { d.calls = append(d.calls, "DestroyBindGroup") }
func (d *countingDevice) Submit(QueueID, []Command) (FenceID, error) {
	return FenceID(d.id("Submit")), nil
}
func (d *countingDevice) Wait(FenceID, time.Duration) (bool, error) {
	return d.waitErr == nil, d.waitErr
}
func (d *countingDevice) DestroyFence(FenceID) { d.calls = append(d.calls, "DestroyFence") }
func (d *countingDevice) Destroy()             { d.calls = append(d.calls, "Destroy") }

type messageLog struct {
	mu   sync.Mutex
	msgs []Message
}

func (l *messageLog) reporter() Reporter {
	return func(m Message) {
		l.mu.Lock()
		l.msgs = append(l.msgs, m)
		l.mu.Unlock()
	}
}

func (l *messageLog) count(sev Severity, substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.msgs {
		if m.Severity == sev && strings.Contains(m.Text, substr) {
			n++
		}
	}
	return n
}

func newValidated(t *testing.T) (*countingDevice, Device, *messageLog) {
	t.Helper()
	inner := &countingDevice{}
	log := &messageLog{}
	return inner, Validate(inner, log.reporter()), log
}

func TestValidateZeroSizedObjects(t *testing.T) {
	inner, dev, log := newValidated(t)

	if _, err := dev.CreateImage(&ImageDesc{Label: "empty", Format: FormatRGBA8Unorm, Usage: UsageStorage}); err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	if _, err := dev.CreateBuffer(&BufferDesc{Label: "nothing", Usage: BufferHostRead}); err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}

	if got := log.count(SeverityError, "zero extent"); got != 1 {
		t.Errorf("zero extent errors = %d, want 1", got)
	}
	if got := log.count(SeverityError, "zero size"); got != 1 {
		t.Errorf("zero size errors = %d, want 1", got)
	}
	// The call still reaches the device.
	if len(inner.calls) != 2 {
		t.Errorf("inner calls = %v, want 2 creations", inner.calls)
	}
}

func TestValidateDoubleDestroy(t *testing.T) {
	_, dev, log := newValidated(t)

	id, _ := dev.CreateBuffer(&BufferDesc{Label: "b", Size: 16, Usage: BufferHostRead | BufferCopyDst})
	dev.DestroyBuffer(id)
	dev.DestroyBuffer(id)

	if got := log.count(SeverityError, "unknown buffer"); got != 1 {
		t.Errorf("unknown buffer errors = %d, want 1", got)
	}
}

func TestValidateReadAccess(t *testing.T) {
	_, dev, log := newValidated(t)

	vb, _ := dev.CreateBuffer(&BufferDesc{Label: "vertices", Size: 24, Usage: BufferHostWrite | BufferVertex})
	_ = dev.ReadBuffer(vb, 0, make([]byte, 24))
	if got := log.count(SeverityError, "without host access"); got != 1 {
		t.Errorf("host access errors = %d, want 1", got)
	}

	rb, _ := dev.CreateBuffer(&BufferDesc{Label: "readback", Size: 8, Usage: BufferHostRead | BufferCopyDst})
	_ = dev.ReadBuffer(rb, 4, make([]byte, 8))
	if got := log.count(SeverityError, "overruns"); got != 1 {
		t.Errorf("overrun errors = %d, want 1", got)
	}
}

func TestValidateStream(t *testing.T) {
	tests := []struct {
		name  string
		build func(dev Device) []Command
		sev   Severity
		want  string
	}{
		{
			name: "draw outside pass",
			build: func(dev Device) []Command {
				p, _ := dev.CreateRenderPipeline(&RenderPipelineDesc{Label: "tri", Vertex: VertexLayout{Stride: 8}})
				vb, _ := dev.CreateBuffer(&BufferDesc{Label: "vb", Size: 24, Usage: BufferVertex | BufferHostWrite})
				return []Command{DrawCommand{Pipeline: p, Vertices: vb, VertexCount: 3}}
			},
			sev:  SeverityError,
			want: "outside a render pass",
		},
		{
			name: "unterminated pass",
			build: func(dev Device) []Command {
				img, _ := dev.CreateImage(&ImageDesc{Label: "rt", Width: 8, Height: 8, Format: FormatRGBA8Unorm, Usage: UsageRenderTarget})
				return []Command{BeginRenderPassCommand{Target: img}}
			},
			sev:  SeverityError,
			want: "ends inside a render pass",
		},
		{
			name: "copy without source usage",
			build: func(dev Device) []Command {
				img, _ := dev.CreateImage(&ImageDesc{Label: "img", Width: 64, Height: 64, Format: FormatRGBA8Unorm, Usage: UsageStorage})
				buf, _ := dev.CreateBuffer(&BufferDesc{Label: "out", Size: 64 * 64 * 4, Usage: BufferHostRead | BufferCopyDst})
				return []Command{CopyImageToBufferCommand{Image: img, Buffer: buf}}
			},
			sev:  SeverityError,
			want: "without copy source usage",
		},
		{
			name: "unaligned copy pitch",
			build: func(dev Device) []Command {
				img, _ := dev.CreateImage(&ImageDesc{Label: "img", Width: 8, Height: 8, Format: FormatRGBA8Unorm, Usage: UsageCopySrc})
				buf, _ := dev.CreateBuffer(&BufferDesc{Label: "out", Size: 8 * 8 * 4, Usage: BufferHostRead | BufferCopyDst})
				return []Command{CopyImageToBufferCommand{Image: img, Buffer: buf}}
			},
			sev:  SeverityPerformance,
			want: "not 256-byte aligned",
		},
		{
			name: "foreign bind group",
			build: func(dev Device) []Command {
				layout := []BindingSlot{{Slot: 0, Kind: BindingStorageImage, Format: FormatRGBA8Unorm}}
				a, _ := dev.CreateComputePipeline(&ComputePipelineDesc{Label: "a", WorkgroupSize: [3]uint32{8, 8, 1}, Layout: layout})
				b, _ := dev.CreateComputePipeline(&ComputePipelineDesc{Label: "b", WorkgroupSize: [3]uint32{8, 8, 1}, Layout: layout})
				img, _ := dev.CreateImage(&ImageDesc{Label: "img", Width: 8, Height: 8, Format: FormatRGBA8Unorm, Usage: UsageStorage})
				g, _ := dev.CreateBindGroup(&BindGroupDesc{Pipeline: a, Entries: []BindGroupEntry{{Slot: 0, Image: img}}})
				return []Command{DispatchCommand{Pipeline: b, BindGroup: g, Groups: [3]uint32{4, 4, 1}}}
			},
			sev:  SeverityError,
			want: "not built for pipeline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, dev, log := newValidated(t)
			if _, err := dev.Submit(1, tt.build(dev)); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if got := log.count(tt.sev, tt.want); got == 0 {
				t.Errorf("no %s message containing %q; got %v", tt.sev, tt.want, log.msgs)
			}
		})
	}
}

func TestValidateCleanStreamReportsOnlyInfo(t *testing.T) {
	_, dev, log := newValidated(t)

	layout := []BindingSlot{{Slot: 0, Kind: BindingStorageImage, Format: FormatRGBA8Unorm}}
	p, _ := dev.CreateComputePipeline(&ComputePipelineDesc{Label: "mandelbrot", WorkgroupSize: [3]uint32{8, 8, 1}, Layout: layout})
	img, _ := dev.CreateImage(&ImageDesc{Label: "img", Width: 64, Height: 64, Format: FormatRGBA8Unorm, Usage: UsageStorage | UsageCopySrc})
	buf, _ := dev.CreateBuffer(&BufferDesc{Label: "out", Size: 64 * 64 * 4, Usage: BufferHostRead | BufferCopyDst})
	g, _ := dev.CreateBindGroup(&BindGroupDesc{Pipeline: p, Entries: []BindGroupEntry{{Slot: 0, Image: img}}})

	f, err := dev.Submit(1, []Command{
		DispatchCommand{Pipeline: p, BindGroup: g, Groups: [3]uint32{8, 8, 1}},
		CopyImageToBufferCommand{Image: img, Buffer: buf},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ok, err := dev.Wait(f, time.Second); !ok || err != nil {
		t.Fatalf("Wait = %v, %v", ok, err)
	}
	dev.DestroyFence(f)
	dev.DestroyBindGroup(g)
	dev.DestroyBuffer(buf)
	dev.DestroyImage(img)
	dev.DestroyPipeline(p)
	dev.Destroy()

	for _, m := range log.msgs {
		if m.Severity != SeverityInfo {
			t.Errorf("unexpected message %v", m)
		}
	}
	if got := log.count(SeverityInfo, "submitted 2 commands"); got != 1 {
		t.Errorf("submission info messages = %d, want 1", got)
	}
}
