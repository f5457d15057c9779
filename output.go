package headless

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// WriteImage encodes img into path. The extension picks the encoder:
// .png, .bmp, .tif or .tiff.
func WriteImage(path string, img image.Image) (err error) {
	encode, err := encoderFor(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("write image: %w", cerr)
		}
	}()
	if err := encode(f, img); err != nil {
		return fmt.Errorf("write image %s: %w", path, err)
	}
	return nil
}

type encodeFunc func(w io.Writer, img image.Image) error

func encoderFor(path string) (encodeFunc, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		return func(w io.Writer, img image.Image) error { return png.Encode(w, img) }, nil
	case ".bmp":
		return func(w io.Writer, img image.Image) error { return bmp.Encode(w, img) }, nil
	case ".tif", ".tiff":
		return func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		}, nil
	default:
		return nil, fmt.Errorf("write image: unsupported extension %q", ext)
	}
}
