package media

// DecodedFrame is what a decoder reports for each frame it consumed.
type DecodedFrame struct {
	PTS      uint64
	Codec    Codec
	Keyframe bool
	NALUnits int
	Width    int
	Height   int
}

// FrameCallback receives decoder output. Decoders may call it from their own
// goroutine.
type FrameCallback func(DecodedFrame)

// Decoder consumes complete compressed frames.
type Decoder interface {
	Decode(frame []byte, pts uint64) error
	Close() error
}

// DecoderFactory creates a decoder for a codec. onFrame must be called for
// each decoded frame.
type DecoderFactory func(c Codec, onFrame FrameCallback) (Decoder, error)

// Renderer displays decoded frames.
type Renderer interface {
	Render(DecodedFrame) error
	Close() error
}

// RendererFactory opens a display of the given size.
type RendererFactory func(title string, width, height int) (Renderer, error)

// Frames wider than maxDisplayWidth are shown at 1280x720.
const maxDisplayWidth = 1280

// DisplaySize returns the size a display should use for a w x h stream.
func DisplaySize(w, h int) (int, int) {
	if w > maxDisplayWidth {
		return 1280, 720
	}
	return w, h
}
