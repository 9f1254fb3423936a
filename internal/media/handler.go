package media

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/peerlink/internal/reasm"
)

// HandlerStats is a snapshot of one media handler's counters.
type HandlerStats struct {
	Completed  int64 `json:"completed"`
	Bytes      int64 `json:"bytes"`
	Discarded  int64 `json:"discarded"`
	Overflows  int64 `json:"overflows"`
	Mismatches int64 `json:"mismatches"`
	Failures   int64 `json:"failures"`
	InFlight   bool  `json:"inFlight"`
}

// handlerCounters are shared by the image and video handlers. The handlers
// themselves run on one goroutine; counters are atomic so Stats can be read
// from another.
type handlerCounters struct {
	completed  atomic.Int64
	bytes      atomic.Int64
	discarded  atomic.Int64
	overflows  atomic.Int64
	mismatches atomic.Int64
	failures   atomic.Int64
	inFlight   atomic.Bool
}

func (c *handlerCounters) snapshot() HandlerStats {
	return HandlerStats{
		Completed:  c.completed.Load(),
		Bytes:      c.bytes.Load(),
		Discarded:  c.discarded.Load(),
		Overflows:  c.overflows.Load(),
		Mismatches: c.mismatches.Load(),
		Failures:   c.failures.Load(),
		InFlight:   c.inFlight.Load(),
	}
}

// noteAddError logs and counts an assembler rejection.
func (c *handlerCounters) noteAddError(log *slog.Logger, mismatch *dropLog, id uint16, err error) {
	switch {
	case errors.Is(err, reasm.ErrOverflow):
		c.overflows.Add(1)
		log.Warn("reassembly overflow, entity dropped", "id", id, "error", err)
	case errors.Is(err, reasm.ErrNoEntity), errors.Is(err, reasm.ErrMismatch):
		c.mismatches.Add(1)
		if n, ok := mismatch.hit(); ok {
			log.Warn("fragment without matching entity dropped", "id", id, "dropped", n, "error", err)
		}
	}
}
