package codec

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/peerlink/internal/media"
)

var (
	// ErrUnsupported is returned for codecs the probe cannot inspect.
	ErrUnsupported = errors.New("codec: unsupported codec")
	// ErrClosed is returned by Decode after Close.
	ErrClosed = errors.New("codec: probe closed")
	// ErrBusy means the probe's input queue was full and the frame was dropped.
	ErrBusy = errors.New("codec: probe busy, frame dropped")
)

// DefaultDepth is the number of frames a Probe buffers ahead of its worker.
const DefaultDepth = 32

type job struct {
	frame []byte
	pts   uint64
}

// Probe is a media.Decoder that classifies each frame on its own goroutine
// and reports a media.DecodedFrame per frame.
type Probe struct {
	log     *slog.Logger
	codec   media.Codec
	onFrame media.FrameCallback

	mu     sync.Mutex
	closed bool
	jobs   chan job
	done   chan struct{}

	dropped atomic.Int64

	// worker-owned
	width, height int
}

// NewProbe starts a probe for c. onFrame may be nil.
func NewProbe(c media.Codec, onFrame media.FrameCallback, log *slog.Logger) (*Probe, error) {
	if c != media.CodecH264 && c != media.CodecH265 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, c)
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Probe{
		log:     log.With("component", "probe", "codec", c.String()),
		codec:   c,
		onFrame: onFrame,
		jobs:    make(chan job, DefaultDepth),
		done:    make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Factory adapts NewProbe to media.DecoderFactory.
func Factory(log *slog.Logger) media.DecoderFactory {
	return func(c media.Codec, onFrame media.FrameCallback) (media.Decoder, error) {
		return NewProbe(c, onFrame, log)
	}
}

// Decode queues a frame. It never blocks.
func (p *Probe) Decode(frame []byte, pts uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- job{frame: frame, pts: pts}:
		return nil
	default:
		p.dropped.Add(1)
		return ErrBusy
	}
}

// Dropped returns how many frames were refused because the queue was full.
func (p *Probe) Dropped() int64 { return p.dropped.Load() }

// Close stops the worker after it finishes queued frames.
func (p *Probe) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	<-p.done
	return nil
}

func (p *Probe) run() {
	defer close(p.done)
	for j := range p.jobs {
		f := p.inspect(j.frame, j.pts)
		if p.onFrame != nil {
			p.onFrame(f)
		}
	}
}

func (p *Probe) inspect(frame []byte, pts uint64) media.DecodedFrame {
	f := media.DecodedFrame{PTS: pts, Codec: p.codec}

	var units []NALUnit
	if p.codec == media.CodecH264 {
		units = SplitH264(frame)
	} else {
		units = SplitHEVC(frame)
	}
	f.NALUnits = len(units)

	for _, u := range units {
		switch p.codec {
		case media.CodecH264:
			switch u.Type {
			case NALIDR:
				f.Keyframe = true
			case NALSPS:
				pic, err := ParseH264SPS(u.Data)
				if err != nil {
					p.log.Debug("SPS parse failed", "error", err)
					continue
				}
				if pic.Width != p.width || pic.Height != p.height {
					p.log.Info("picture size", "width", pic.Width, "height", pic.Height,
						"profile", pic.Profile, "level", pic.Level)
				}
				p.width, p.height = pic.Width, pic.Height
			}
		case media.CodecH265:
			if u.Type >= HEVCBlaWLP && u.Type <= HEVCCraNut {
				f.Keyframe = true
			}
		}
	}
	f.Width, f.Height = p.width, p.height
	return f
}
