package media

import (
	"fmt"
	"log/slog"

	"github.com/zsiec/peerlink/internal/reasm"
	"github.com/zsiec/peerlink/internal/wire"
)

type frameDesc struct {
	header wire.VideoHeader
	stream *VideoStream
}

// VideoConfig configures a VideoHandler.
type VideoConfig struct {
	MaxFrame int    // accumulation ceiling per frame
	Prefix   string // output filename prefix
}

// VideoHandler reassembles video frames and routes each completed frame to
// its stream: JPEG frames are written one file per frame, everything else is
// appended to the stream's elementary stream file and handed to its decoder.
type VideoHandler struct {
	log     *slog.Logger
	streams *StreamManager
	sink    Sink
	prefix  string
	asm     *reasm.Assembler[frameDesc]

	mismatch   dropLog
	decodeFail dropLog

	// id of a frame whose stream is stopped; its continuations are ignored
	skipID   uint16
	skipping bool

	counters handlerCounters
}

// NewVideoHandler creates a VideoHandler. If log is nil, slog.Default() is used.
func NewVideoHandler(cfg VideoConfig, streams *StreamManager, sink Sink, log *slog.Logger) *VideoHandler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &VideoHandler{
		log:     log.With("component", "video"),
		streams: streams,
		sink:    sink,
		prefix:  cfg.Prefix,
		asm:     reasm.NewAssembler[frameDesc](cfg.MaxFrame),
	}
}

// Handle consumes one video packet. done reports that a frame completed and
// was persisted. A non-nil error means the packet or the frame it completed
// was dropped.
func (h *VideoHandler) Handle(p wire.Packet) (done bool, err error) {
	defer func() { h.counters.inFlight.Store(h.asm.State() == reasm.Assembling) }()

	hdr := p.Header
	payload := p.Payload

	switch hdr.SubHeader {
	case 1:
		vh, err := wire.DecodeVideoHeader(payload)
		if err != nil {
			h.asm.Reset()
			return false, err
		}
		payload = payload[wire.VideoHeaderLen:]

		st, err := h.streams.GetOrCreate(StreamType(vh.StreamType))
		if err != nil {
			h.asm.Reset()
			h.skipID, h.skipping = hdr.ID, true
			return false, err
		}
		h.skipping = false
		h.streams.Prepare(st, vh)
		if h.asm.Start(hdr.ID, frameDesc{header: vh, stream: st}) {
			h.counters.discarded.Add(1)
			h.log.Debug("incomplete frame discarded", "id", hdr.ID)
		}
	case 0:
		if h.skipping && hdr.ID == h.skipID {
			return false, ErrStreamStopped
		}
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
	if err := h.complete(e); err != nil {
		h.counters.failures.Add(1)
		return false, err
	}
	return true, nil
}

func (h *VideoHandler) complete(e *reasm.Entity[frameDesc]) error {
	st := e.Desc.stream
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: frame id %d", ErrEmptyEntity, e.ID)
	}
	if st.Stopped() {
		return fmt.Errorf("%w: %s", ErrStreamStopped, st.Type)
	}

	codec := st.Codec()
	if codec == CodecJPEG {
		name := JPEGFrameName(h.prefix, st.Type, st.Frames())
		if err := h.sink.WriteFile(name, e.Data); err != nil {
			return err
		}
	} else {
		if err := h.sink.Append(StreamFileName(h.prefix, st.Type, codec), e.Data); err != nil {
			return err
		}
	}
	seq := st.record(len(e.Data))
	h.counters.completed.Add(1)
	h.counters.bytes.Add(int64(len(e.Data)))

	if codec != CodecJPEG {
		if err := st.decode(e.Data, e.Desc.header.PTS); err != nil {
			if n, ok := h.decodeFail.hit(); ok {
				h.log.Warn("decode failed", "stream", st.Type.String(), "error", err, "count", n)
			}
		}
	}
	if seq%30 == 0 {
		vh := e.Desc.header
		h.log.Debug("frame complete", "stream", st.Type.String(), "codec", codec.String(),
			"frame", seq, "bytes", len(e.Data), "frameType", vh.FrameType, "pts", vh.PTS)
	}
	return nil
}

// Stats returns a snapshot of the handler's counters.
func (h *VideoHandler) Stats() HandlerStats {
	return h.counters.snapshot()
}
