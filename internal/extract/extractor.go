// Package extract recovers packet boundaries from the raw byte stream
// delivered by the transport. Bytes are fed in as they arrive and complete,
// prefix-validated packets are pulled out with Next. Corruption is handled
// locally: an unknown prefix costs one byte, an implausible length costs the
// four prefix bytes, and neither is ever surfaced as an error.
package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/peerlink/internal/wire"
)

var (
	// ErrNeedMore means the buffer holds no complete packet yet.
	ErrNeedMore = errors.New("extract: need more data")
	// ErrBufferOverflow means a Feed would have grown the buffer past
	// Limits.MaxBuffer. The buffer and the rejected input were discarded.
	ErrBufferOverflow = errors.New("extract: receive buffer overflow")
)

// MinPacket is the smallest plausible packet: framing plus one payload byte.
const MinPacket = wire.Overhead + 1

// Limits bounds the memory the extractor may hold.
type Limits struct {
	MaxBuffer int // receive buffer ceiling
	MaxPacket int // largest total packet length accepted
}

// DefaultLimits matches the device client: 1 MiB for both ceilings.
func DefaultLimits() Limits {
	return Limits{MaxBuffer: 1 << 20, MaxPacket: 1 << 20}
}

// Stats is a point-in-time snapshot of extractor counters.
type Stats struct {
	Packets      int64 `json:"packets"`
	SkippedBytes int64 `json:"skippedBytes"`
	BadLengths   int64 `json:"badLengths"`
	Overflows    int64 `json:"overflows"`
	DroppedBytes int64 `json:"droppedBytes"`
	Buffered     int64 `json:"buffered"`
}

// Extractor owns the receive buffer. Feed and Next must be called from a
// single goroutine; Stats and Buffered are safe from any goroutine.
type Extractor struct {
	log    *slog.Logger
	limits Limits

	buf []byte
	off int

	// consecutive bytes skipped while looking for a prefix
	skipRun int

	packets      atomic.Int64
	skipped      atomic.Int64
	badLengths   atomic.Int64
	overflows    atomic.Int64
	droppedBytes atomic.Int64
	buffered     atomic.Int64
}

// New creates an Extractor. Non-positive limits fall back to DefaultLimits.
func New(limits Limits, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultLimits()
	if limits.MaxBuffer <= 0 {
		limits.MaxBuffer = def.MaxBuffer
	}
	if limits.MaxPacket <= 0 {
		limits.MaxPacket = def.MaxPacket
	}
	return &Extractor{
		log:    log.With("component", "extract"),
		limits: limits,
	}
}

// Feed appends bytes read from the transport. If the buffer would exceed
// MaxBuffer everything buffered is discarded together with p and
// ErrBufferOverflow is returned; the extractor stays usable.
func (e *Extractor) Feed(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	pending := len(e.buf) - e.off
	if pending+len(p) > e.limits.MaxBuffer {
		e.overflows.Add(1)
		e.droppedBytes.Add(int64(pending + len(p)))
		e.Reset()
		return fmt.Errorf("%w: %d buffered + %d read > %d", ErrBufferOverflow, pending, len(p), e.limits.MaxBuffer)
	}
	if e.off > 0 {
		n := copy(e.buf, e.buf[e.off:])
		e.buf = e.buf[:n]
		e.off = 0
	}
	e.buf = append(e.buf, p...)
	e.buffered.Store(int64(len(e.buf)))
	return nil
}

// Next returns the next complete packet, or ErrNeedMore when the buffered
// bytes do not yet hold one. The returned packet owns its bytes.
func (e *Extractor) Next() (wire.Packet, error) {
	for {
		b := e.buf[e.off:]
		if len(b) < wire.PrefixLen {
			return wire.Packet{}, ErrNeedMore
		}
		if wire.KindOf(b) == wire.KindUnknown {
			e.skip(1)
			e.skipRun++
			continue
		}
		if e.skipRun > 0 {
			e.log.Debug("stream resynchronized", "skipped", e.skipRun)
			e.skipRun = 0
		}
		if len(b) < wire.PrefixLen+wire.HeaderLen {
			return wire.Packet{}, ErrNeedMore
		}

		h, err := wire.DecodeHeader(b[wire.PrefixLen:])
		if err != nil {
			return wire.Packet{}, ErrNeedMore
		}
		total := wire.PacketLen(int(h.Len))
		if total < MinPacket || total > e.limits.MaxPacket {
			e.badLengths.Add(1)
			e.log.Debug("invalid packet length, skipping prefix", "total", total, "id", h.ID)
			e.skip(wire.PrefixLen)
			continue
		}
		if len(b) < total {
			return wire.Packet{}, ErrNeedMore
		}

		raw := make([]byte, total)
		copy(raw, b)
		e.advance(total)

		p, err := wire.Parse(raw)
		if err != nil {
			// unreachable once prefix and length are validated
			e.log.Debug("packet parse failed", "error", err)
			continue
		}
		e.packets.Add(1)
		return p, nil
	}
}

// Buffered returns the number of unconsumed bytes.
func (e *Extractor) Buffered() int {
	return int(e.buffered.Load())
}

// Reset discards all buffered bytes.
func (e *Extractor) Reset() {
	e.buf = e.buf[:0]
	e.off = 0
	e.skipRun = 0
	e.buffered.Store(0)
}

// Stats returns a snapshot of the extractor counters.
func (e *Extractor) Stats() Stats {
	return Stats{
		Packets:      e.packets.Load(),
		SkippedBytes: e.skipped.Load(),
		BadLengths:   e.badLengths.Load(),
		Overflows:    e.overflows.Load(),
		DroppedBytes: e.droppedBytes.Load(),
		Buffered:     e.buffered.Load(),
	}
}

func (e *Extractor) skip(n int) {
	e.skipped.Add(int64(n))
	e.advance(n)
}

func (e *Extractor) advance(n int) {
	e.off += n
	if e.off == len(e.buf) {
		e.buf = e.buf[:0]
		e.off = 0
	}
	e.buffered.Store(int64(len(e.buf) - e.off))
}
