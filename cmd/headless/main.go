// Command headless renders a Mandelbrot set with a compute dispatch and a
// triangle with a draw call, reads both back from the device and writes
// them as image files.
package main

import (
	"os"

	"github.com/gogpu/headless/cmd/headless/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
