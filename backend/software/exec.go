package software

import (
	"errors"
	"fmt"

	"github.com/gogpu/headless/internal/driver"
)

// bindings resolves the resources of a bind group for a host kernel.
type bindings struct {
	images  map[uint32]*image
	buffers map[uint32][]byte
}

// Image implements driver.KernelBindings.
func (b *bindings) Image(slot uint32) driver.StorageImage {
	if img, ok := b.images[slot]; ok {
		return img
	}
	return nil
}

// Buffer implements driver.KernelBindings.
func (b *bindings) Buffer(slot uint32) []byte { return b.buffers[slot] }

// execute replays one command stream. Must be called without mu held.
func (d *Device) execute(cmds []driver.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var target *image
	for i, c := range cmds {
		var err error
		switch cmd := c.(type) {
		case driver.DispatchCommand:
			err = d.dispatch(cmd)
		case driver.BeginRenderPassCommand:
			img, ok := d.images[cmd.Target]
			if !ok {
				err = fmt.Errorf("%w: image %d", driver.ErrInvalidHandle, cmd.Target)
				break
			}
			img.clear(cmd.Clear)
			target = img
		case driver.DrawCommand:
			if target == nil {
				err = errors.New("draw outside a render pass")
				break
			}
			err = d.draw(target, cmd)
		case driver.EndRenderPassCommand:
			target = nil
		case driver.CopyImageToBufferCommand:
			err = d.copyImageToBuffer(cmd)
		default:
			err = fmt.Errorf("%w: command %T", driver.ErrUnsupported, c)
		}
		if err != nil {
			return fmt.Errorf("command %d (%s): %w", i, c.Type(), err)
		}
	}
	return nil
}

func (d *Device) dispatch(cmd driver.DispatchCommand) error {
	p, ok := d.pipelines[cmd.Pipeline]
	if !ok || !p.compute {
		return fmt.Errorf("%w: compute pipeline %d", driver.ErrInvalidHandle, cmd.Pipeline)
	}
	g, ok := d.groups[cmd.BindGroup]
	if !ok || g.pipeline != cmd.Pipeline {
		return fmt.Errorf("%w: bind group %d for pipeline %d", driver.ErrInvalidHandle, cmd.BindGroup, cmd.Pipeline)
	}

	b := &bindings{images: make(map[uint32]*image), buffers: make(map[uint32][]byte)}
	for _, e := range g.entries {
		switch {
		case e.Image != driver.InvalidID:
			img, ok := d.images[e.Image]
			if !ok {
				return fmt.Errorf("%w: image %d at slot %d", driver.ErrInvalidHandle, e.Image, e.Slot)
			}
			b.images[e.Slot] = img
		case e.Buffer != driver.InvalidID:
			buf, ok := d.buffers[e.Buffer]
			if !ok {
				return fmt.Errorf("%w: buffer %d at slot %d", driver.ErrInvalidHandle, e.Buffer, e.Slot)
			}
			b.buffers[e.Slot] = buf.data
		}
	}

	nx := cmd.Groups[0] * p.workgroup[0]
	ny := cmd.Groups[1] * p.workgroup[1]
	nz := cmd.Groups[2] * p.workgroup[2]
	if nx == 0 || ny == 0 || nz == 0 {
		return nil
	}
	kernel := p.kernel
	d.pool.Range(int(ny*nz), func(lo, hi int) {
		for row := lo; row < hi; row++ {
			y, z := uint32(row)%ny, uint32(row)/ny
			for x := uint32(0); x < nx; x++ {
				kernel([3]uint32{x, y, z}, b)
			}
		}
	})
	return nil
}

func (d *Device) copyImageToBuffer(cmd driver.CopyImageToBufferCommand) error {
	img, ok := d.images[cmd.Image]
	if !ok {
		return fmt.Errorf("%w: image %d", driver.ErrInvalidHandle, cmd.Image)
	}
	buf, ok := d.buffers[cmd.Buffer]
	if !ok {
		return fmt.Errorf("%w: buffer %d", driver.ErrInvalidHandle, cmd.Buffer)
	}
	if len(buf.data) < len(img.texel) {
		return fmt.Errorf("buffer of %d bytes cannot hold %d bytes of image %q",
			len(buf.data), len(img.texel), img.desc.Label)
	}
	copy(buf.data, img.texel)
	return nil
}
