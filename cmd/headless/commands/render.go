package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gogpu/headless"
)

var mandelbrotCmd = &cobra.Command{
	Use:   "mandelbrot",
	Short: "Render the Mandelbrot set with a compute dispatch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		size, _ := cmd.Flags().GetInt("size")
		out, _ := cmd.Flags().GetString("output")
		dc, err := openContext(headless.CapCompute | headless.CapTransfer)
		if err != nil {
			return err
		}
		defer dc.Close()
		return renderMandelbrot(commandContext(cmd), cmd, dc, size, out)
	},
}

var triangleCmd = &cobra.Command{
	Use:   "triangle",
	Short: "Draw a red triangle over a blue background",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		size, _ := cmd.Flags().GetInt("size")
		out, _ := cmd.Flags().GetString("output")
		dc, err := openContext(headless.CapGraphics | headless.CapTransfer)
		if err != nil {
			return err
		}
		defer dc.Close()
		return renderTriangle(commandContext(cmd), cmd, dc, size, out)
	},
}

func init() {
	mandelbrotCmd.Flags().Int("size", 1024, "image width and height, a multiple of 8")
	mandelbrotCmd.Flags().StringP("output", "o", "image2.png", "output file (.png, .bmp or .tiff)")
	triangleCmd.Flags().Int("size", 1024, "image width and height")
	triangleCmd.Flags().StringP("output", "o", "triangle.png", "output file (.png, .bmp or .tiff)")

	rootCmd.AddCommand(mandelbrotCmd, triangleCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func renderMandelbrot(ctx context.Context, cmd *cobra.Command, dc *headless.Context, size int, out string) error {
	img, err := headless.RenderMandelbrot(ctx, dc, size)
	if err != nil {
		return fmt.Errorf("mandelbrot: %w", err)
	}
	if err := headless.WriteImage(out, img); err != nil {
		return err
	}
	cmd.Printf("Mandelbrot set written to %s (%dx%d)\n", out, size, size)
	return nil
}

func renderTriangle(ctx context.Context, cmd *cobra.Command, dc *headless.Context, size int, out string) error {
	img, err := headless.RenderTriangle(ctx, dc, size)
	if err != nil {
		return fmt.Errorf("triangle: %w", err)
	}
	if err := headless.WriteImage(out, img); err != nil {
		return err
	}
	cmd.Printf("Triangle written to %s (%dx%d)\n", out, size, size)
	return nil
}
