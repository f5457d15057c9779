package headless

import (
	"context"
	"image"
	"math"

	"golang.org/x/sync/errgroup"
)

// MandelbrotLayout is the binding layout of the Mandelbrot kernel: one
// writable RGBA8 storage image at slot 0.
var MandelbrotLayout = BindingLayout{
	{Slot: 0, Kind: BindingStorageImage, Format: FormatRGBA8Unorm},
}

// MandelbrotProgram returns the Mandelbrot compute kernel, local size
// 8×8×1. Each invocation writes the escape time of its pixel as gray.
func MandelbrotProgram() ShaderProgram {
	return ShaderProgram{
		Label:      "mandelbrot",
		Stage:      ShaderCompute,
		Source:     mandelbrotSource,
		EntryPoint: "main",
		Emulation:  Emulation{Compute: mandelbrotKernel},
	}
}

// mandelbrotKernel is the host version of shaders/mandelbrot.wgsl.
func mandelbrotKernel(id [3]uint32, b KernelBindings) {
	img := b.Image(0)
	if img == nil {
		return
	}
	w, h := img.Size()
	x, y := int(id[0]), int(id[1])
	if x >= w || y >= h {
		return
	}
	nx := (float32(x) + 0.5) / float32(w)
	ny := (float32(y) + 0.5) / float32(h)
	cx := (nx-0.5)*2 - 1
	cy := (ny - 0.5) * 2

	var zx, zy, i float32
	for i = 0; i < 1; i += 0.005 {
		zx, zy = zx*zx-zy*zy+cx, zy*zx+zx*zy+cy
		if float32(math.Sqrt(float64(zx*zx+zy*zy))) > 4 {
			break
		}
	}
	img.Store(x, y, [4]float32{i, i, i, 1})
}

// RenderMandelbrot renders a size×size Mandelbrot image with a compute
// dispatch and reads it back. size must be a positive multiple of 8.
func RenderMandelbrot(ctx context.Context, dc *Context, size int) (*image.RGBA, error) {
	ctx, cancel := dc.waitContext(ctx)
	defer cancel()
	q := dc.QueueFor(CapCompute | CapTransfer)

	var (
		img *Image
		buf *HostBuffer
		p   *Pipeline
	)
	var g errgroup.Group
	g.Go(func() (err error) {
		img, err = dc.CreateImage(size, size, FormatRGBA8Unorm, UsageStorage|UsageCopySrc,
			OwnedBy(q), WithLabel("mandelbrot_image"))
		return err
	})
	g.Go(func() (err error) {
		buf, err = dc.CreateHostBuffer(size*size*4, AccessHostRead, WithLabel("mandelbrot_readback"))
		return err
	})
	g.Go(func() (err error) {
		p, err = dc.BuildComputePipeline(MandelbrotProgram(), MandelbrotLayout)
		return err
	})
	err := g.Wait()
	defer releaseAll(img, buf, p)
	if err != nil {
		return nil, err
	}

	set, err := dc.Bind(p, ImageBinding(0, img))
	if err != nil {
		return nil, err
	}
	defer set.Release()

	cb, err := dc.Record(q).
		DispatchOver(p, set, img).
		CopyImageToBuffer(img, buf).
		Finish()
	if err != nil {
		return nil, err
	}
	return submitAndRead(ctx, q, cb, buf, size)
}

// submitAndRead submits cb, waits for it and wraps the readback of buf as
// a size×size RGBA image.
func submitAndRead(ctx context.Context, q *Queue, cb *CommandBuffer, buf *HostBuffer, size int) (*image.RGBA, error) {
	fence, err := q.Submit(cb)
	if err != nil {
		cb.Release()
		return nil, err
	}
	defer fence.Release()

	data, err := Readback(ctx, buf, fence)
	if err != nil {
		return nil, err
	}
	return &image.RGBA{
		Pix:    data[:size*size*4],
		Stride: size * 4,
		Rect:   image.Rect(0, 0, size, size),
	}, nil
}

// releaseAll releases the non-nil objects among rs.
func releaseAll(rs ...any) {
	for _, r := range rs {
		switch v := r.(type) {
		case *Image:
			if v != nil {
				v.Release()
			}
		case *HostBuffer:
			if v != nil {
				v.Release()
			}
		case *Pipeline:
			if v != nil {
				v.Release()
			}
		}
	}
}

// waitContext applies Config.WaitTimeout to a ctx without deadline.
func (c *Context) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.cfg.WaitTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.WaitTimeout)
}
