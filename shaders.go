package headless

import _ "embed"

var (
	//go:embed shaders/mandelbrot.wgsl
	mandelbrotSource string

	//go:embed shaders/triangle.wgsl
	triangleSource string
)
