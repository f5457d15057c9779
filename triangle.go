package headless

import (
	"context"
	"image"

	"golang.org/x/sync/errgroup"
)

// TriangleVertices are the positions of the default triangle in
// normalized device coordinates, two float32 per vertex.
var TriangleVertices = []float32{
	-0.5, -0.5,
	0.0, 0.5,
	0.5, -0.25,
}

// TriangleClear is the background of RenderTriangle: opaque blue.
var TriangleClear = Color{R: 0, G: 0, B: 1, A: 1}

// TriangleVertexLayout feeds one vec2<f32> position per vertex at
// location 0.
var TriangleVertexLayout = VertexLayout{
	Stride: 8,
	Attributes: []VertexAttribute{
		{Location: 0, Format: VertexFloat32x2, Offset: 0},
	},
}

// TrianglePrograms returns the vertex and fragment stages of the flat red
// triangle.
func TrianglePrograms() (vs, fs ShaderProgram) {
	vs = ShaderProgram{
		Label:      "triangle",
		Stage:      ShaderVertex,
		Source:     triangleSource,
		EntryPoint: "vs_main",
		Emulation: Emulation{Vertex: func(attrs []float32) [4]float32 {
			return [4]float32{attrs[0], attrs[1], 0, 1}
		}},
	}
	fs = ShaderProgram{
		Label:      "triangle_fs",
		Stage:      ShaderFragment,
		Source:     triangleSource,
		EntryPoint: "fs_main",
		Emulation: Emulation{Fragment: func([4]float32) [4]float32 {
			return [4]float32{1, 0, 0, 1}
		}},
	}
	return vs, fs
}

// RenderTriangle draws TriangleVertices over TriangleClear into a
// size×size image and reads it back.
func RenderTriangle(ctx context.Context, dc *Context, size int) (*image.RGBA, error) {
	return DrawTriangle(ctx, dc, size, TriangleVertices, TriangleClear)
}

// DrawTriangle draws the triangle list verts, two floats per vertex, in
// red over clear into a size×size image and reads it back.
func DrawTriangle(ctx context.Context, dc *Context, size int, verts []float32, clear Color) (*image.RGBA, error) {
	ctx, cancel := dc.waitContext(ctx)
	defer cancel()
	q := dc.QueueFor(CapGraphics | CapTransfer)

	var (
		img *Image
		buf *HostBuffer
		vb  *HostBuffer
		p   *Pipeline
	)
	var g errgroup.Group
	g.Go(func() (err error) {
		img, err = dc.CreateImage(size, size, FormatRGBA8Unorm, UsageRenderTarget|UsageCopySrc,
			OwnedBy(q), WithLabel("triangle_image"))
		return err
	})
	g.Go(func() (err error) {
		buf, err = dc.CreateHostBuffer(size*size*4, AccessHostRead, WithLabel("triangle_readback"))
		return err
	})
	g.Go(func() (err error) {
		vb, err = dc.CreateVertexBuffer(verts, WithLabel("triangle_vertices"))
		return err
	})
	g.Go(func() (err error) {
		vs, fs := TrianglePrograms()
		p, err = dc.BuildGraphicsPipeline(vs, fs, TriangleVertexLayout,
			RenderTarget{Width: size, Height: size, Format: FormatRGBA8Unorm})
		return err
	})
	err := g.Wait()
	defer releaseAll(img, buf, vb, p)
	if err != nil {
		return nil, err
	}

	fb, err := p.Framebuffer(img)
	if err != nil {
		return nil, err
	}
	cb, err := dc.Record(q).
		BeginRenderPass(fb, clear).
		Draw(p, DynamicState{}, vb).
		EndRenderPass().
		CopyImageToBuffer(img, buf).
		Finish()
	if err != nil {
		return nil, err
	}
	return submitAndRead(ctx, q, cb, buf, size)
}
