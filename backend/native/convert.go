package native

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/headless/internal/driver"
)

// copyPitchAlignment is the required BytesPerRow alignment of
// texture-to-buffer copies.
const copyPitchAlignment = 256

func alignPitch(bytesPerRow uint32) uint32 {
	return (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
}

func convertFormat(f driver.Format) (gputypes.TextureFormat, bool) {
	switch f {
	case driver.FormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm, true
	case driver.FormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8Unorm, true
	case driver.FormatR8Unorm:
		return gputypes.TextureFormatR8Unorm, true
	case driver.FormatR32Float:
		return gputypes.TextureFormatR32Float, true
	case driver.FormatRGBA32Float:
		return gputypes.TextureFormatRGBA32Float, true
	default:
		return gputypes.TextureFormatUndefined, false
	}
}

func convertImageUsage(u driver.ImageUsage) gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if u&driver.UsageStorage != 0 {
		out |= gputypes.TextureUsageStorageBinding
	}
	if u&driver.UsageRenderTarget != 0 {
		out |= gputypes.TextureUsageRenderAttachment
	}
	if u&driver.UsageCopySrc != 0 {
		out |= gputypes.TextureUsageCopySrc
	}
	if u&driver.UsageCopyDst != 0 {
		out |= gputypes.TextureUsageCopyDst
	}
	if u&driver.UsageSampled != 0 {
		out |= gputypes.TextureUsageTextureBinding
	}
	return out
}

func convertBufferUsage(u driver.BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u&driver.BufferHostRead != 0 {
		out |= gputypes.BufferUsageMapRead
	}
	if u&driver.BufferHostWrite != 0 {
		out |= gputypes.BufferUsageCopyDst
	}
	if u&driver.BufferCopyDst != 0 {
		out |= gputypes.BufferUsageCopyDst
	}
	if u&driver.BufferCopySrc != 0 {
		out |= gputypes.BufferUsageCopySrc
	}
	if u&driver.BufferVertex != 0 {
		out |= gputypes.BufferUsageVertex
	}
	if u&driver.BufferStorage != 0 {
		out |= gputypes.BufferUsageStorage
	}
	if u&driver.BufferUniform != 0 {
		out |= gputypes.BufferUsageUniform
	}
	return out
}

func convertVertexFormat(f driver.VertexFormat) gputypes.VertexFormat {
	switch f {
	case driver.VertexFloat32:
		return gputypes.VertexFormatFloat32
	case driver.VertexFloat32x3:
		return gputypes.VertexFormatFloat32x3
	case driver.VertexFloat32x4:
		return gputypes.VertexFormatFloat32x4
	default:
		return gputypes.VertexFormatFloat32x2
	}
}

func convertVertexLayout(l driver.VertexLayout) []gputypes.VertexBufferLayout {
	attrs := make([]gputypes.VertexAttribute, len(l.Attributes))
	for i, a := range l.Attributes {
		attrs[i] = gputypes.VertexAttribute{
			Format:         convertVertexFormat(a.Format),
			Offset:         uint64(a.Offset),
			ShaderLocation: a.Location,
		}
	}
	return []gputypes.VertexBufferLayout{{
		ArrayStride: uint64(l.Stride),
		StepMode:    gputypes.VertexStepModeVertex,
		Attributes:  attrs,
	}}
}

// convertLayoutEntry converts one binding slot to a HAL bind group layout
// entry visible to the compute stage.
func convertLayoutEntry(slot driver.BindingSlot) gputypes.BindGroupLayoutEntry {
	entry := gputypes.BindGroupLayoutEntry{
		Binding:    slot.Slot,
		Visibility: gputypes.ShaderStageCompute,
	}
	switch slot.Kind {
	case driver.BindingUniformBuffer:
		entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case driver.BindingStorageBuffer:
		entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
	case driver.BindingReadOnlyStorageBuffer:
		entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
	case driver.BindingStorageImage:
		format, _ := convertFormat(slot.Format)
		entry.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        gputypes.StorageTextureAccessWriteOnly,
			Format:        format,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case driver.BindingSampledImage:
		entry.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	}
	return entry
}
