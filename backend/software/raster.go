package software

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/headless/internal/driver"
)

// vertex is a transformed vertex in framebuffer space.
type vertex struct {
	x, y, z float32
}

// draw rasterizes cmd.VertexCount vertices as a triangle list into target.
func (d *Device) draw(target *image, cmd driver.DrawCommand) error {
	p, ok := d.pipelines[cmd.Pipeline]
	if !ok || p.compute {
		return fmt.Errorf("%w: graphics pipeline %d", driver.ErrInvalidHandle, cmd.Pipeline)
	}
	vb, ok := d.buffers[cmd.Vertices]
	if !ok {
		return fmt.Errorf("%w: vertex buffer %d", driver.ErrInvalidHandle, cmd.Vertices)
	}
	if p.colorFormat != target.desc.Format {
		return fmt.Errorf("pipeline %q writes %s, render target is %s", p.label, p.colorFormat, target.desc.Format)
	}

	verts := make([]vertex, 0, cmd.VertexCount)
	attrs := make([]float32, 0, 16)
	stride := uint64(p.vertex.Stride)
	for v := uint64(0); v < uint64(cmd.VertexCount); v++ {
		attrs = attrs[:0]
		for _, a := range p.vertex.Attributes {
			off := v*stride + uint64(a.Offset)
			n := uint64(a.Format.Components())
			if off+n*4 > uint64(len(vb.data)) {
				return fmt.Errorf("vertex %d attribute %d reads past the vertex buffer", v, a.Location)
			}
			for c := uint64(0); c < n; c++ {
				attrs = append(attrs, math.Float32frombits(binary.LittleEndian.Uint32(vb.data[off+c*4:])))
			}
		}
		verts = append(verts, toFramebuffer(p.vertexFn(attrs), cmd.Viewport))
	}

	clip := intersect(cmd.Scissor, driver.Rect{Width: uint32(target.w), Height: uint32(target.h)})
	for t := 0; t+2 < len(verts); t += 3 {
		d.rasterTriangle(target, p.fragmentFn, verts[t], verts[t+1], verts[t+2], clip)
	}
	return nil
}

// toFramebuffer applies the perspective divide and the viewport
// transform. NDC +y points up; framebuffer +y points down.
func toFramebuffer(clip [4]float32, vp driver.Viewport) vertex {
	w := clip[3]
	if w == 0 {
		return vertex{x: float32(math.NaN()), y: float32(math.NaN())}
	}
	nx, ny, nz := clip[0]/w, clip[1]/w, clip[2]/w
	return vertex{
		x: vp.X + (nx+1)*0.5*vp.Width,
		y: vp.Y + (1-ny)*0.5*vp.Height,
		z: vp.MinDepth + nz*(vp.MaxDepth-vp.MinDepth),
	}
}

func intersect(a, b driver.Rect) driver.Rect {
	x0, y0 := max(a.X, b.X), max(a.Y, b.Y)
	x1, y1 := min(a.X+a.Width, b.X+b.Width), min(a.Y+a.Height, b.Y+b.Height)
	if x1 <= x0 || y1 <= y0 {
		return driver.Rect{}
	}
	return driver.Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func edge(a, b vertex, px, py float32) float32 {
	return (b.x-a.x)*(py-a.y) - (b.y-a.y)*(px-a.x)
}

// rasterTriangle shades every pixel of clip whose center lies inside the
// triangle. Both windings are filled.
func (d *Device) rasterTriangle(target *image, shade driver.FragmentKernel, v0, v1, v2 vertex, clip driver.Rect) {
	area := edge(v0, v1, v2.x, v2.y)
	if area == 0 || math.IsNaN(float64(area)) || clip.Width == 0 {
		return
	}

	minX := max(int(math.Floor(float64(min(v0.x, v1.x, v2.x)))), int(clip.X))
	maxX := min(int(math.Ceil(float64(max(v0.x, v1.x, v2.x)))), int(clip.X+clip.Width)-1)
	minY := max(int(math.Floor(float64(min(v0.y, v1.y, v2.y)))), int(clip.Y))
	maxY := min(int(math.Ceil(float64(max(v0.y, v1.y, v2.y)))), int(clip.Y+clip.Height)-1)
	if minX > maxX || minY > maxY {
		return
	}

	inv := 1 / area
	d.pool.Range(maxY-minY+1, func(lo, hi int) {
		for py := minY + lo; py < minY+hi; py++ {
			cy := float32(py) + 0.5
			for px := minX; px <= maxX; px++ {
				cx := float32(px) + 0.5
				w0 := edge(v1, v2, cx, cy) * inv
				w1 := edge(v2, v0, cx, cy) * inv
				w2 := edge(v0, v1, cx, cy) * inv
				if w0 < 0 || w1 < 0 || w2 < 0 {
					continue
				}
				z := w0*v0.z + w1*v1.z + w2*v2.z
				target.Store(px, py, shade([4]float32{cx, cy, z, 1}))
			}
		}
	})
}
