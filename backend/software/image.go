package software

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/headless/internal/driver"
)

// image is a device-local image stored as tightly packed rows in the
// image's own format.
type image struct {
	desc  driver.ImageDesc
	w, h  int
	bpp   int
	texel []byte
}

func newImage(desc driver.ImageDesc) *image {
	bpp := desc.Format.BytesPerPixel()
	w, h := int(desc.Width), int(desc.Height)
	return &image{desc: desc, w: w, h: h, bpp: bpp, texel: make([]byte, w*h*bpp)}
}

// Size implements driver.StorageImage.
func (im *image) Size() (int, int) { return im.w, im.h }

// Store implements driver.StorageImage.
func (im *image) Store(x, y int, c [4]float32) {
	if x < 0 || y < 0 || x >= im.w || y >= im.h {
		return
	}
	encodeTexel(im.desc.Format, im.texel[(y*im.w+x)*im.bpp:], c)
}

// Load implements driver.StorageImage.
func (im *image) Load(x, y int) [4]float32 {
	if x < 0 || y < 0 || x >= im.w || y >= im.h {
		return [4]float32{}
	}
	return decodeTexel(im.desc.Format, im.texel[(y*im.w+x)*im.bpp:])
}

// clear fills the whole image with one color.
func (im *image) clear(c driver.Color) {
	px := make([]byte, im.bpp)
	encodeTexel(im.desc.Format, px, [4]float32{float32(c.R), float32(c.G), float32(c.B), float32(c.A)})
	for off := 0; off < len(im.texel); off += im.bpp {
		copy(im.texel[off:], px)
	}
}

// unorm8 converts a float to an 8-bit normalized value, rounding to
// nearest. NaN maps to zero.
func unorm8(v float32) byte {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(math.Round(float64(v) * 255))
}

func encodeTexel(f driver.Format, dst []byte, c [4]float32) {
	switch f {
	case driver.FormatRGBA8Unorm:
		dst[0], dst[1], dst[2], dst[3] = unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), unorm8(c[3])
	case driver.FormatBGRA8Unorm:
		dst[0], dst[1], dst[2], dst[3] = unorm8(c[2]), unorm8(c[1]), unorm8(c[0]), unorm8(c[3])
	case driver.FormatR8Unorm:
		dst[0] = unorm8(c[0])
	case driver.FormatR32Float:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(c[0]))
	case driver.FormatRGBA32Float:
		for i := range 4 {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(c[i]))
		}
	}
}

func decodeTexel(f driver.Format, src []byte) [4]float32 {
	const inv = 1.0 / 255
	switch f {
	case driver.FormatRGBA8Unorm:
		return [4]float32{float32(src[0]) * inv, float32(src[1]) * inv, float32(src[2]) * inv, float32(src[3]) * inv}
	case driver.FormatBGRA8Unorm:
		return [4]float32{float32(src[2]) * inv, float32(src[1]) * inv, float32(src[0]) * inv, float32(src[3]) * inv}
	case driver.FormatR8Unorm:
		return [4]float32{float32(src[0]) * inv, 0, 0, 1}
	case driver.FormatR32Float:
		return [4]float32{math.Float32frombits(binary.LittleEndian.Uint32(src)), 0, 0, 1}
	case driver.FormatRGBA32Float:
		var c [4]float32
		for i := range 4 {
			c[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
		return c
	}
	return [4]float32{}
}
