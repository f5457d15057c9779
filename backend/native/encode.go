package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/headless/internal/driver"
	"github.com/gogpu/wgpu/hal"
)

// encoder turns one driver command stream into a HAL command buffer.
type encoder struct {
	d   *Device
	enc hal.CommandEncoder
	sub *submission
	rp  hal.RenderPassEncoder

	// usage holds the texture usages reached so far in this stream.
	usage map[*texture]gputypes.TextureUsage
}

// encode records cmds and returns the command buffer with the texture
// usages the stream ends in. The caller commits the usages after the
// queue accepts the buffer. Must be called with submitMu held.
func (d *Device) encode(cmds []driver.Command, sub *submission) (hal.CommandBuffer, map[*texture]gputypes.TextureUsage, error) {
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "headless_submit"})
	if err != nil {
		return nil, nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("headless_submit"); err != nil {
		return nil, nil, fmt.Errorf("begin encoding: %w", err)
	}

	e := &encoder{d: d, enc: enc, sub: sub, usage: make(map[*texture]gputypes.TextureUsage)}
	d.mu.RLock()
	err = e.record(cmds)
	d.mu.RUnlock()
	if err != nil {
		enc.DiscardEncoding()
		return nil, nil, err
	}

	cmd, err := enc.EndEncoding()
	if err != nil {
		return nil, nil, fmt.Errorf("end encoding: %w", err)
	}
	return cmd, e.usage, nil
}

func (e *encoder) record(cmds []driver.Command) error {
	for i, c := range cmds {
		var err error
		switch cmd := c.(type) {
		case driver.DispatchCommand:
			err = e.dispatch(cmd)
		case driver.BeginRenderPassCommand:
			err = e.beginRenderPass(cmd)
		case driver.DrawCommand:
			err = e.draw(cmd)
		case driver.EndRenderPassCommand:
			if e.rp == nil {
				err = errors.New("render pass end without begin")
				break
			}
			e.rp.End()
			e.rp = nil
		case driver.CopyImageToBufferCommand:
			err = e.copyImageToBuffer(cmd)
		default:
			err = fmt.Errorf("%w: command %T", driver.ErrUnsupported, c)
		}
		if err != nil {
			return fmt.Errorf("command %d (%s): %w", i, c.Type(), err)
		}
	}
	if e.rp != nil {
		e.rp.End()
		e.rp = nil
	}
	return nil
}

// transition moves t to usage, inserting a barrier when the usage changes.
func (e *encoder) transition(t *texture, usage gputypes.TextureUsage) {
	old, ok := e.usage[t]
	if !ok {
		old = t.usage
	}
	if old != usage {
		e.enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: t.tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: old,
				NewUsage: usage,
			},
		}})
	}
	e.usage[t] = usage
}

func (e *encoder) dispatch(cmd driver.DispatchCommand) error {
	if e.rp != nil {
		return errors.New("dispatch inside a render pass")
	}
	p, ok := e.d.pipelines[cmd.Pipeline]
	if !ok || p.compute == nil {
		return fmt.Errorf("%w: compute pipeline %d", driver.ErrInvalidHandle, cmd.Pipeline)
	}
	g, ok := e.d.groups[cmd.BindGroup]
	if !ok || g.pipeline != cmd.Pipeline {
		return fmt.Errorf("%w: bind group %d for pipeline %d", driver.ErrInvalidHandle, cmd.BindGroup, cmd.Pipeline)
	}
	for _, entry := range g.entries {
		if entry.Image == driver.InvalidID {
			continue
		}
		t, ok := e.d.images[entry.Image]
		if !ok {
			return fmt.Errorf("%w: image %d", driver.ErrInvalidHandle, entry.Image)
		}
		e.transition(t, gputypes.TextureUsageStorageBinding)
	}

	pass := e.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: p.label})
	pass.SetPipeline(p.compute)
	pass.SetBindGroup(0, g.group, nil)
	pass.Dispatch(cmd.Groups[0], cmd.Groups[1], cmd.Groups[2])
	pass.End()
	return nil
}

func (e *encoder) beginRenderPass(cmd driver.BeginRenderPassCommand) error {
	if e.rp != nil {
		return errors.New("render pass begun inside a render pass")
	}
	t, ok := e.d.images[cmd.Target]
	if !ok {
		return fmt.Errorf("%w: image %d", driver.ErrInvalidHandle, cmd.Target)
	}
	e.transition(t, gputypes.TextureUsageRenderAttachment)
	e.rp = e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: t.desc.Label + "_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    t.view,
			LoadOp:  gputypes.LoadOpClear,
			StoreOp: gputypes.StoreOpStore,
			ClearValue: gputypes.Color{
				R: cmd.Clear.R, G: cmd.Clear.G, B: cmd.Clear.B, A: cmd.Clear.A,
			},
		}},
	})
	return nil
}

func (e *encoder) draw(cmd driver.DrawCommand) error {
	if e.rp == nil {
		return errors.New("draw outside a render pass")
	}
	p, ok := e.d.pipelines[cmd.Pipeline]
	if !ok || p.render == nil {
		return fmt.Errorf("%w: graphics pipeline %d", driver.ErrInvalidHandle, cmd.Pipeline)
	}
	vb, ok := e.d.buffers[cmd.Vertices]
	if !ok {
		return fmt.Errorf("%w: vertex buffer %d", driver.ErrInvalidHandle, cmd.Vertices)
	}
	vp, sc := cmd.Viewport, cmd.Scissor
	e.rp.SetPipeline(p.render)
	e.rp.SetVertexBuffer(0, vb.buf, 0)
	e.rp.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.MinDepth, vp.MaxDepth)
	e.rp.SetScissorRect(sc.X, sc.Y, sc.Width, sc.Height)
	e.rp.Draw(cmd.VertexCount, 1, 0, 0)
	return nil
}

// copyImageToBuffer copies an image into a buffer with tightly packed
// rows. Copies whose row pitch is not 256-byte aligned go through a
// staging buffer and are repacked row by row.
func (e *encoder) copyImageToBuffer(cmd driver.CopyImageToBufferCommand) error {
	if e.rp != nil {
		return errors.New("copy inside a render pass")
	}
	t, ok := e.d.images[cmd.Image]
	if !ok {
		return fmt.Errorf("%w: image %d", driver.ErrInvalidHandle, cmd.Image)
	}
	dst, ok := e.d.buffers[cmd.Buffer]
	if !ok {
		return fmt.Errorf("%w: buffer %d", driver.ErrInvalidHandle, cmd.Buffer)
	}
	w, h := t.desc.Width, t.desc.Height
	bytesPerRow := w * uint32(t.desc.Format.BytesPerPixel())
	if need := uint64(bytesPerRow) * uint64(h); dst.desc.Size < need {
		return fmt.Errorf("buffer of %d bytes cannot hold %d bytes of image %q", dst.desc.Size, need, t.desc.Label)
	}

	e.transition(t, gputypes.TextureUsageCopySrc)
	size := hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1}
	aligned := alignPitch(bytesPerRow)
	if aligned == bytesPerRow {
		e.enc.CopyTextureToBuffer(t.tex, dst.buf, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: bytesPerRow, RowsPerImage: h},
			TextureBase:  hal.ImageCopyTexture{Texture: t.tex, MipLevel: 0},
			Size:         size,
		}})
		return nil
	}

	staging, err := e.d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: t.desc.Label + "_staging",
		Size:  uint64(aligned) * uint64(h),
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("%w: staging buffer: %w", driver.ErrOutOfMemory, err)
	}
	e.sub.staging = append(e.sub.staging, staging)

	e.enc.CopyTextureToBuffer(t.tex, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: aligned, RowsPerImage: h},
		TextureBase:  hal.ImageCopyTexture{Texture: t.tex, MipLevel: 0},
		Size:         size,
	}})
	e.enc.TransitionBuffers([]hal.BufferBarrier{{
		Buffer: staging,
		Usage: hal.BufferUsageTransition{
			OldUsage: gputypes.BufferUsageCopyDst,
			NewUsage: gputypes.BufferUsageCopySrc,
		},
	}})
	rows := make([]hal.BufferCopy, h)
	for y := range h {
		rows[y] = hal.BufferCopy{
			SrcOffset: uint64(y) * uint64(aligned),
			DstOffset: uint64(y) * uint64(bytesPerRow),
			Size:      uint64(bytesPerRow),
		}
	}
	e.enc.CopyBufferToBuffer(staging, dst.buf, rows)
	return nil
}
