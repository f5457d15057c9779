package headless

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/gogpu/headless/backend"
	"github.com/gogpu/headless/backend/software"
	"github.com/gogpu/headless/internal/driver"
)

// useBackend registers a software instance built with opts under a name
// unique to the test and returns that name.
func useBackend(t *testing.T, opts ...software.Option) string {
	t.Helper()
	name := "software-" + t.Name()
	backend.Register(name, func() (driver.Instance, error) {
		return software.New(opts...), nil
	})
	t.Cleanup(func() { backend.Unregister(name) })
	return name
}

// newContext initializes a Context on the software backend.
func newContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	opts = append([]Option{WithBackend(backend.BackendSoftware)}, opts...)
	dc, err := Initialize(CapGraphics|CapCompute|CapTransfer, opts...)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(dc.Close)
	return dc
}

// softwareDevice returns the driver under dc. dc must not be validated.
func softwareDevice(t *testing.T, dc *Context) *software.Device {
	t.Helper()
	dev, ok := dc.dev.(*software.Device)
	if !ok {
		t.Fatalf("device is %T, want *software.Device", dc.dev)
	}
	return dev
}

// captureLogs installs a text logger writing into the returned buffer.
func captureLogs(t *testing.T, level slog.Level) *syncBuffer {
	t.Helper()
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })
	buf := &syncBuffer{}
	SetLogger(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})))
	return buf
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInitializeSoftware(t *testing.T) {
	dc := newContext(t)

	if got := dc.Info().Backend; got != backend.BackendSoftware {
		t.Errorf("backend = %q, want %q", got, backend.BackendSoftware)
	}
	if n := len(dc.QueueFamilies()); n != 3 {
		t.Errorf("queue families = %d, want 3", n)
	}
	q := dc.MainQueue()
	if q.Family() != 0 {
		t.Errorf("main queue family = %d, want 0", q.Family())
	}
	if !q.Capabilities().Has(CapGraphics | CapCompute | CapTransfer) {
		t.Errorf("main queue caps = %s", q.Capabilities())
	}
	if dc.QueueFor(CapCompute) != q {
		t.Error("QueueFor without dedicated queues should return the main queue")
	}
}

func TestInitializeLogsQueueFamilies(t *testing.T) {
	logs := captureLogs(t, slog.LevelInfo)
	newContext(t)

	out := logs.String()
	if n := strings.Count(out, "msg=\"queue family\""); n != 3 {
		t.Errorf("logged %d queue families, want 3:\n%s", n, out)
	}
	for _, want := range []string{"index=0", "graphics=true", "compute=true", "transfer=true", "msg=\"device opened\""} {
		if !strings.Contains(out, want) {
			t.Errorf("log lacks %q:\n%s", want, out)
		}
	}
}

func TestInitializeDedicatedQueues(t *testing.T) {
	dc := newContext(t, WithDedicatedQueues())

	main := dc.MainQueue()
	compute := dc.QueueFor(CapCompute)
	transfer := dc.QueueFor(CapTransfer)
	if compute == main || compute.Family() != 1 {
		t.Errorf("compute queue family = %d, want dedicated family 1", compute.Family())
	}
	if transfer == main || transfer.Family() != 1 && transfer.Family() != 2 {
		t.Errorf("transfer queue family = %d, want a dedicated family", transfer.Family())
	}
	if dc.QueueFor(CapGraphics) != main {
		t.Error("graphics work should go to the main queue")
	}
}

func TestInitializeErrors(t *testing.T) {
	tests := []struct {
		name string
		caps Capability
		opts func(t *testing.T) []Option
		want error
	}{
		{
			name: "unknown backend",
			caps: CapCompute,
			opts: func(*testing.T) []Option { return []Option{WithBackend("nope")} },
			want: ErrNoDeviceAvailable,
		},
		{
			name: "no adapters",
			caps: CapCompute,
			opts: func(t *testing.T) []Option {
				return []Option{WithBackend(useBackend(t, software.WithAdapters()))}
			},
			want: ErrNoDeviceAvailable,
		},
		{
			name: "missing extension",
			caps: CapCompute,
			opts: func(*testing.T) []Option {
				return []Option{WithBackend(backend.BackendSoftware), WithExtensions("VK_KHR_ray_query")}
			},
			want: ErrNoDeviceAvailable,
		},
		{
			name: "no graphics family",
			caps: CapGraphics,
			opts: func(t *testing.T) []Option {
				spec := software.AdapterSpec{
					Name:     "compute only",
					Families: []driver.Capability{CapCompute | CapTransfer},
				}
				return []Option{WithBackend(useBackend(t, software.WithAdapters(spec)))}
			},
			want: ErrNoSuitableQueueFamily,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc, err := Initialize(tt.caps, tt.opts(t)...)
			if err == nil {
				dc.Close()
				t.Fatal("Initialize succeeded")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			var e *Error
			if !errors.As(err, &e) || e.Stage != StageInitialization {
				t.Errorf("err = %#v, want an initialization *Error", err)
			}
		})
	}
}

func TestInitializeRequiredExtension(t *testing.T) {
	plain := software.AdapterSpec{Name: "plain", Families: []driver.Capability{CapCompute | CapTransfer}}
	rich := software.AdapterSpec{
		Name:       "rich",
		Families:   []driver.Capability{CapCompute | CapTransfer},
		Extensions: []string{"VK_KHR_storage_buffer_storage_class"},
	}
	name := useBackend(t, software.WithAdapters(plain, rich))
	dc, err := Initialize(CapCompute, WithBackend(name), WithExtensions("VK_KHR_storage_buffer_storage_class"))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer dc.Close()
	if dc.Info().Name != "rich" {
		t.Errorf("adapter = %q, want rich", dc.Info().Name)
	}
}

func TestContextRetainClose(t *testing.T) {
	dc, err := Initialize(CapCompute, WithBackend(backend.BackendSoftware))
	if err != nil {
		t.Fatal(err)
	}
	dc.Retain()
	dc.Close()
	if _, err := dc.CreateHostBuffer(16, AccessHostRead); err != nil {
		t.Fatalf("context closed early: %v", err)
	}
	dc.Close()
}

func TestValidationMessagesAreLogged(t *testing.T) {
	logs := captureLogs(t, slog.LevelDebug)
	dc := newContext(t, WithValidation(true))

	img, err := dc.CreateImage(8, 8, FormatRGBA8Unorm, UsageStorage)
	if err != nil {
		t.Fatal(err)
	}
	img.Release()
	// A second destroy reaches the driver only through the validation
	// layer, which reports it instead of failing.
	dc.dev.DestroyImage(img.id)

	out := logs.String()
	if !strings.Contains(out, "severity=error") {
		t.Errorf("no validation error logged:\n%s", out)
	}
	if !strings.Contains(out, "severity=performance") {
		t.Errorf("no performance advisory logged:\n%s", out)
	}
}
