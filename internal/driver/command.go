package driver

// CommandType identifies the type of a recorded command.
type CommandType uint8

const (
	// Compute commands
	CmdDispatch CommandType = iota // Run a compute pipeline over a grid of workgroups

	// Graphics commands
	CmdBeginRenderPass // Clear a color attachment and begin drawing into it
	CmdDraw            // Draw a vertex buffer with a graphics pipeline
	CmdEndRenderPass   // Store the color attachment

	// Transfer commands
	CmdCopyImageToBuffer // Copy every texel of an image into a buffer
)

// commandTypeNames maps CommandType values to their string representation.
var commandTypeNames = [...]string{
	CmdDispatch:          "Dispatch",
	CmdBeginRenderPass:   "BeginRenderPass",
	CmdDraw:              "Draw",
	CmdEndRenderPass:     "EndRenderPass",
	CmdCopyImageToBuffer: "CopyImageToBuffer",
}

// String returns the string representation of a CommandType.
func (c CommandType) String() string {
	if int(c) < len(commandTypeNames) {
		return commandTypeNames[c]
	}
	return "Unknown"
}

// Capability returns the queue capability the command requires.
func (c CommandType) Capability() Capability {
	switch c {
	case CmdDispatch:
		return CapCompute
	case CmdBeginRenderPass, CmdDraw, CmdEndRenderPass:
		return CapGraphics
	default:
		return CapTransfer
	}
}

// Command is the interface implemented by all command types.
// A command stream is replayed by the driver in recorded order.
type Command interface {
	// Type returns the CommandType for this command.
	Type() CommandType
}

// DispatchCommand runs a compute pipeline.
type DispatchCommand struct {
	Pipeline  PipelineID
	BindGroup BindGroupID
	Groups    [3]uint32
}

// Type implements Command.
func (DispatchCommand) Type() CommandType { return CmdDispatch }

// BeginRenderPassCommand starts a render pass on a single color target.
// The target is cleared to Clear and stored at the end of the pass.
type BeginRenderPassCommand struct {
	Target ImageID
	Clear  Color
}

// Type implements Command.
func (BeginRenderPassCommand) Type() CommandType { return CmdBeginRenderPass }

// DrawCommand draws VertexCount vertices from Vertices as a triangle list.
type DrawCommand struct {
	Pipeline    PipelineID
	Vertices    BufferID
	VertexCount uint32
	Viewport    Viewport
	Scissor     Rect
}

// Type implements Command.
func (DrawCommand) Type() CommandType { return CmdDraw }

// EndRenderPassCommand ends the current render pass.
type EndRenderPassCommand struct{}

// Type implements Command.
func (EndRenderPassCommand) Type() CommandType { return CmdEndRenderPass }

// CopyImageToBufferCommand copies an image into a buffer as tightly packed
// rows starting at offset 0.
type CopyImageToBufferCommand struct {
	Image  ImageID
	Buffer BufferID
}

// Type implements Command.
func (CopyImageToBufferCommand) Type() CommandType { return CmdCopyImageToBuffer }
