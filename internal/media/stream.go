package media

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/peerlink/internal/wire"
)

// VideoStream is the per-type state for one video stream. It is created on
// the first frame of its type and, once stopped, is never recreated.
type VideoStream struct {
	Type      StreamType
	StartedAt time.Time

	log *slog.Logger

	mu       sync.Mutex
	codec    Codec
	width    int
	height   int
	decoder  Decoder
	renderer Renderer
	stopped  bool
	last     wire.VideoHeader

	frames       atomic.Int64
	bytes        atomic.Int64
	decoded      atomic.Int64
	renderErrors atomic.Int64
}

// StreamInfo is a point-in-time snapshot of a VideoStream.
type StreamInfo struct {
	Type      int8   `json:"type"`
	Name      string `json:"name"`
	Codec     string `json:"codec"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	FrameRate uint8  `json:"frameRate"`
	Frames    int64  `json:"frames"`
	Bytes     int64  `json:"bytes"`
	Decoded   int64  `json:"decoded"`
	Decoding  bool   `json:"decoding"`
	Rendering bool   `json:"rendering"`
	Stopped   bool   `json:"stopped"`
	StartedAt int64  `json:"startedAt"`
}

// Codec returns the codec fixed on the stream's first frame.
func (s *VideoStream) Codec() Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec
}

// Stopped reports whether the stream reached its terminal state.
func (s *VideoStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Frames returns the number of frames persisted.
func (s *VideoStream) Frames() int64 { return s.frames.Load() }

// Info returns a snapshot of the stream.
func (s *VideoStream) Info() StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamInfo{
		Type:      int8(s.Type),
		Name:      s.Type.String(),
		Codec:     s.codec.String(),
		Width:     s.width,
		Height:    s.height,
		FrameRate: s.last.FrameRate,
		Frames:    s.frames.Load(),
		Bytes:     s.bytes.Load(),
		Decoded:   s.decoded.Load(),
		Decoding:  s.decoder != nil,
		Rendering: s.renderer != nil,
		Stopped:   s.stopped,
		StartedAt: s.StartedAt.UnixMilli(),
	}
}

func (s *VideoStream) observe(h wire.VideoHeader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = h
	if s.codec <= 0 && h.Encoding > 0 {
		s.codec = Codec(h.Encoding)
	}
	if h.Width > 0 && h.Height > 0 {
		s.width, s.height = int(h.Width), int(h.Height)
	}
}

// record counts one persisted frame and returns its sequence number.
func (s *VideoStream) record(size int) int64 {
	s.bytes.Add(int64(size))
	return s.frames.Add(1) - 1
}

func (s *VideoStream) decode(frame []byte, pts uint64) error {
	s.mu.Lock()
	dec := s.decoder
	s.mu.Unlock()
	if dec == nil {
		return nil
	}
	return dec.Decode(frame, pts)
}

func (s *VideoStream) onDecoded(f DecodedFrame) {
	n := s.decoded.Add(1)
	s.mu.Lock()
	r := s.renderer
	s.mu.Unlock()
	if r == nil {
		return
	}
	if err := r.Render(f); err != nil {
		if c := s.renderErrors.Add(1); c == 1 || c%30 == 0 {
			s.log.Warn("render failed", "error", err, "count", c, "decoded", n)
		}
	}
}

// ManagerConfig wires the optional decode and display collaborators.
type ManagerConfig struct {
	NewDecoder  DecoderFactory
	NewRenderer RendererFactory
}

// StreamManager owns the five video stream slots.
type StreamManager struct {
	log *slog.Logger
	cfg ManagerConfig

	mu      sync.RWMutex
	streams [numStreamTypes]*VideoStream
}

// NewStreamManager creates a StreamManager. If log is nil, slog.Default() is used.
func NewStreamManager(cfg ManagerConfig, log *slog.Logger) *StreamManager {
	if log == nil {
		log = slog.Default()
	}
	return &StreamManager{
		log: log.With("component", "stream-manager"),
		cfg: cfg,
	}
}

// GetOrCreate returns the stream for t, creating it on first use. A stopped
// stream yields ErrStreamStopped.
func (m *StreamManager) GetOrCreate(t StreamType) (*VideoStream, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrBadStreamType, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.streams[t-1]; s != nil {
		if s.Stopped() {
			return nil, fmt.Errorf("%w: %s", ErrStreamStopped, t)
		}
		return s, nil
	}
	s := &VideoStream{
		Type:      t,
		StartedAt: time.Now(),
		log:       m.log.With("stream", t.String()),
	}
	m.streams[t-1] = s
	m.log.Info("stream created", "stream", t.String())
	return s, nil
}

// Get returns the stream for t if it has been created.
func (m *StreamManager) Get(t StreamType) (*VideoStream, bool) {
	if !t.Valid() {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.streams[t-1]
	return s, s != nil
}

// Prepare records h on s and, for decodable codecs, creates the stream's
// decoder and display on their first use. Collaborator failures are logged
// and leave the stream persisting frames without decoding.
func (m *StreamManager) Prepare(s *VideoStream, h wire.VideoHeader) {
	s.observe(h)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.decoder != nil || h.Encoding <= 0 || !s.codec.Decodable() {
		return
	}
	if m.cfg.NewDecoder == nil {
		return
	}

	if m.cfg.NewRenderer != nil && s.renderer == nil {
		w, hgt := DisplaySize(s.width, s.height)
		title := fmt.Sprintf("P2P %s - %dx%d", s.Type.Title(), w, hgt)
		r, err := m.cfg.NewRenderer(title, w, hgt)
		if err != nil {
			s.log.Warn("display unavailable", "error", err)
		} else {
			s.renderer = r
		}
	}

	dec, err := m.cfg.NewDecoder(s.codec, s.onDecoded)
	if err != nil {
		s.log.Warn("decoder unavailable", "codec", s.codec.String(), "error", err)
		return
	}
	s.decoder = dec
	s.log.Info("decoder created", "codec", s.codec.String(), "width", s.width, "height", s.height)
}

// Stop closes the stream's decoder and display and marks it stopped. It is
// a no-op for a stream that was never created.
func (m *StreamManager) Stop(t StreamType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %d", ErrBadStreamType, t)
	}
	m.mu.RLock()
	s := m.streams[t-1]
	m.mu.RUnlock()
	if s == nil {
		return nil
	}
	err := closeStream(s)
	m.log.Info("stream stopped", "stream", t.String(), "frames", s.frames.Load(), "bytes", s.bytes.Load())
	return err
}

func closeStream(s *VideoStream) error {
	s.mu.Lock()
	dec, r := s.decoder, s.renderer
	s.decoder, s.renderer = nil, nil
	s.stopped = true
	s.mu.Unlock()

	var errs []error
	if dec != nil {
		errs = append(errs, dec.Close())
	}
	if r != nil {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

// List returns snapshots of every created stream in type order.
func (m *StreamManager) List() []StreamInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StreamInfo, 0, numStreamTypes)
	for _, s := range m.streams {
		if s != nil {
			out = append(out, s.Info())
		}
	}
	return out
}

// Close stops every stream.
func (m *StreamManager) Close() error {
	m.mu.RLock()
	streams := m.streams
	m.mu.RUnlock()

	var errs []error
	for _, s := range streams {
		if s == nil {
			continue
		}
		errs = append(errs, closeStream(s))
		m.log.Info("stream closed", "stream", s.Type.String(), "frames", s.frames.Load(),
			"megabytes", float64(s.bytes.Load())/(1<<20))
	}
	return errors.Join(errs...)
}
