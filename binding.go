package headless

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/headless/internal/driver"
)

// Binding attaches one resource to a layout slot. Exactly one of Image and
// Buffer is set.
type Binding struct {
	Slot   uint32
	Image  *Image
	Buffer *HostBuffer
}

// ImageBinding binds img to slot.
func ImageBinding(slot uint32, img *Image) Binding {
	return Binding{Slot: slot, Image: img}
}

// BufferBinding binds buf to slot.
func BufferBinding(slot uint32, buf *HostBuffer) Binding {
	return Binding{Slot: slot, Buffer: buf}
}

// BindingSet is a set of resources bound to the layout of one compute
// pipeline. It references the resources; they must outlive it.
type BindingSet struct {
	ctx      *Context
	id       driver.BindGroupID
	pipeline *Pipeline
	entries  []Binding
	released atomic.Bool
}

// Bind binds entries to the layout of p. Entries must cover every slot
// exactly once with a resource of the slot's kind; otherwise Bind returns
// ErrBindingMismatch without creating any device object.
func (c *Context) Bind(p *Pipeline, entries ...Binding) (*BindingSet, error) {
	const op = "bind"
	if err := c.check(StageBinding, op); err != nil {
		return nil, err
	}
	if err := checkBindings(p, entries); err != nil {
		return nil, newError(StageBinding, op, ErrBindingMismatch, err)
	}

	desc := &driver.BindGroupDesc{
		Label:    p.label + "_bindings",
		Pipeline: p.id,
		Entries:  make([]driver.BindGroupEntry, len(entries)),
	}
	for i, e := range entries {
		desc.Entries[i].Slot = e.Slot
		if e.Image != nil {
			desc.Entries[i].Image = e.Image.id
		} else {
			desc.Entries[i].Buffer = e.Buffer.id
		}
	}
	id, err := c.dev.CreateBindGroup(desc)
	if err != nil {
		return nil, c.driverError(StageBinding, op, ErrBindingMismatch, err)
	}
	return &BindingSet{
		ctx:      c,
		id:       id,
		pipeline: p,
		entries:  append([]Binding(nil), entries...),
	}, nil
}

func checkBindings(p *Pipeline, entries []Binding) error {
	if p == nil || p.kind != PipelineCompute {
		return fmt.Errorf("resources can only be bound to compute pipelines")
	}
	if len(entries) != len(p.layout) {
		return fmt.Errorf("pipeline %q has %d slots, got %d bindings", p.label, len(p.layout), len(entries))
	}
	seen := make(map[uint32]bool, len(entries))
	for _, e := range entries {
		if seen[e.Slot] {
			return fmt.Errorf("slot %d bound twice", e.Slot)
		}
		seen[e.Slot] = true

		slot, ok := findSlot(p.layout, e.Slot)
		if !ok {
			return fmt.Errorf("pipeline %q has no slot %d", p.label, e.Slot)
		}
		if (e.Image == nil) == (e.Buffer == nil) {
			return fmt.Errorf("slot %d needs exactly one resource", e.Slot)
		}
		switch {
		case slot.Kind.IsImage():
			if e.Image == nil {
				return fmt.Errorf("slot %d is a %s, got a buffer", e.Slot, slot.Kind)
			}
			if e.Image.released.Load() {
				return fmt.Errorf("slot %d: image %q: %w", e.Slot, e.Image.label, errClosed)
			}
			if e.Image.ctx != p.ctx {
				return fmt.Errorf("slot %d: image %q belongs to another context", e.Slot, e.Image.label)
			}
		case slot.Kind.IsBuffer():
			if e.Buffer == nil {
				return fmt.Errorf("slot %d is a %s, got an image", e.Slot, slot.Kind)
			}
			if e.Buffer.released.Load() {
				return fmt.Errorf("slot %d: buffer %q: %w", e.Slot, e.Buffer.label, errClosed)
			}
			if e.Buffer.ctx != p.ctx {
				return fmt.Errorf("slot %d: buffer %q belongs to another context", e.Slot, e.Buffer.label)
			}
		default:
			return fmt.Errorf("slot %d: %s bindings are not supported", e.Slot, slot.Kind)
		}

		switch slot.Kind {
		case BindingStorageImage:
			if e.Image.usage&UsageStorage == 0 {
				return fmt.Errorf("slot %d: image %q lacks storage usage", e.Slot, e.Image.label)
			}
			if e.Image.format != slot.Format {
				return fmt.Errorf("slot %d: image format %s, slot format %s", e.Slot, e.Image.format, slot.Format)
			}
		case BindingSampledImage:
			if e.Image.usage&UsageSampled == 0 {
				return fmt.Errorf("slot %d: image %q lacks sampled usage", e.Slot, e.Image.label)
			}
		}
	}
	return nil
}

func findSlot(layout BindingLayout, slot uint32) (BindingSlot, bool) {
	for _, s := range layout {
		if s.Slot == slot {
			return s, true
		}
	}
	return BindingSlot{}, false
}

// Pipeline returns the pipeline the set was bound for.
func (s *BindingSet) Pipeline() *Pipeline { return s.pipeline }

// images returns the bound images.
func (s *BindingSet) images() []*Image {
	var out []*Image
	for _, e := range s.entries {
		if e.Image != nil {
			out = append(out, e.Image)
		}
	}
	return out
}

// storageImages returns the images bound to storage image slots.
func (s *BindingSet) storageImages() []*Image {
	var out []*Image
	for _, e := range s.entries {
		if e.Image == nil {
			continue
		}
		if slot, ok := findSlot(s.pipeline.layout, e.Slot); ok && slot.Kind == BindingStorageImage {
			out = append(out, e.Image)
		}
	}
	return out
}

// Release destroys the binding set. It is safe to call more than once.
func (s *BindingSet) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.ctx.dev.DestroyBindGroup(s.id)
	}
}
