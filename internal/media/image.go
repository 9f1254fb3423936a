package media

import (
	"fmt"
	"log/slog"

	"github.com/zsiec/peerlink/internal/reasm"
	"github.com/zsiec/peerlink/internal/wire"
)

// Image describes a completed image.
type Image struct {
	Name   string
	Header wire.ImageHeader
	Size   int
}

// ImageHandler reassembles single-shot images and writes each one to the
// sink exactly once.
type ImageHandler struct {
	log  *slog.Logger
	sink Sink
	asm  *reasm.Assembler[wire.ImageHeader]

	mismatch dropLog
	counters handlerCounters

	// OnImage, when set, is called after an image is written.
	OnImage func(Image)
}

// NewImageHandler creates an ImageHandler. If log is nil, slog.Default() is used.
func NewImageHandler(maxImage int, sink Sink, log *slog.Logger) *ImageHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ImageHandler{
		log:  log.With("component", "image"),
		sink: sink,
		asm:  reasm.NewAssembler[wire.ImageHeader](maxImage),
	}
}

// Handle consumes one image packet. done reports that an image completed and
// was written.
func (h *ImageHandler) Handle(p wire.Packet) (done bool, err error) {
	defer func() { h.counters.inFlight.Store(h.asm.State() == reasm.Assembling) }()

	hdr := p.Header
	payload := p.Payload

	switch hdr.SubHeader {
	case 1:
		ih, err := wire.DecodeImageHeader(payload)
		if err != nil {
			h.asm.Reset()
			return false, err
		}
		payload = payload[wire.ImageHeaderLen:]
		if h.asm.Start(hdr.ID, ih) {
			h.counters.discarded.Add(1)
			h.log.Debug("incomplete image discarded", "id", hdr.ID)
		}
		h.log.Debug("image started", "id", hdr.ID, "channel", ih.Channel, "expected", ih.ImageLen)
	case 0:
	default:
		return false, fmt.Errorf("%w: %d", ErrNotSubHeader, hdr.SubHeader)
	}

	e, err := h.asm.Add(hdr.ID, hdr.Terminal(), payload)
	if err != nil {
		h.counters.noteAddError(h.log, &h.mismatch, hdr.ID, err)
		return false, err
	}
	if e == nil {
		return false, nil
	}
	if len(e.Data) == 0 {
		h.counters.failures.Add(1)
		return false, fmt.Errorf("%w: image id %d", ErrEmptyEntity, e.ID)
	}

	name := ImageName(e.Desc.Channel, e.Desc.PTS, ImageFormat(e.Desc.Encoding))
	if err := h.sink.WriteFile(name, e.Data); err != nil {
		h.counters.failures.Add(1)
		return false, err
	}
	h.counters.completed.Add(1)
	h.counters.bytes.Add(int64(len(e.Data)))
	if int(e.Desc.ImageLen) != len(e.Data) {
		h.log.Debug("image length differs from header", "name", name, "header", e.Desc.ImageLen, "got", len(e.Data))
	}
	h.log.Info("image saved", "name", name, "bytes", len(e.Data))
	if h.OnImage != nil {
		h.OnImage(Image{Name: name, Header: e.Desc, Size: len(e.Data)})
	}
	return true, nil
}

// Stats returns a snapshot of the handler's counters.
func (h *ImageHandler) Stats() HandlerStats {
	return h.counters.snapshot()
}
