// Package dispatch routes extracted packets to the JSON, image, and video
// reassembly paths.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/peerlink/internal/command"
	"github.com/zsiec/peerlink/internal/reasm"
	"github.com/zsiec/peerlink/internal/wire"
)

// ErrChecksum is reported for packets whose stored checksum does not match.
var ErrChecksum = errors.New("dispatch: checksum mismatch")

// Outcome is the result of dispatching one packet.
type Outcome uint8

const (
	// Pending means the packet was accepted as a fragment of an entity that
	// is not complete yet.
	Pending Outcome = iota
	// Completed means the packet completed an entity that was handed on.
	Completed
	// Dropped means the packet was discarded.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// ChecksumPolicy selects what happens to a packet whose checksum fails.
type ChecksumPolicy uint8

const (
	// ChecksumIgnore skips verification.
	ChecksumIgnore ChecksumPolicy = iota
	// ChecksumWarn verifies and logs failures but keeps the packet.
	ChecksumWarn
	// ChecksumDrop verifies and drops failing packets.
	ChecksumDrop
)

// ParseChecksumPolicy parses "ignore", "warn", or "drop". The empty string
// means ignore.
func ParseChecksumPolicy(s string) (ChecksumPolicy, error) {
	switch s {
	case "", "ignore":
		return ChecksumIgnore, nil
	case "warn":
		return ChecksumWarn, nil
	case "drop":
		return ChecksumDrop, nil
	}
	return 0, fmt.Errorf("dispatch: unknown checksum policy %q", s)
}

func (c ChecksumPolicy) String() string {
	switch c {
	case ChecksumIgnore:
		return "ignore"
	case ChecksumWarn:
		return "warn"
	case ChecksumDrop:
		return "drop"
	default:
		return fmt.Sprintf("checksum(%d)", uint8(c))
	}
}

// Interpreter consumes completed JSON messages.
type Interpreter interface {
	Dispatch(code command.Code, payload []byte) error
}

// Handler consumes image or video packets. done reports a completed entity.
type Handler interface {
	Handle(p wire.Packet) (done bool, err error)
}

// Config configures a Dispatcher.
type Config struct {
	Checksum ChecksumPolicy
	JSON     reasm.PoolConfig
}

// Stats is a snapshot of dispatch counters.
type Stats struct {
	Packets          int64           `json:"packets"`
	Pending          int64           `json:"pending"`
	Completed        int64           `json:"completed"`
	Dropped          int64           `json:"dropped"`
	ChecksumFailures int64           `json:"checksumFailures"`
	JSONErrors       int64           `json:"jsonErrors"`
	JSON             reasm.PoolStats `json:"json"`
}

// Dispatcher routes packets by kind. Dispatch is called from a single
// goroutine; Stats may be called from any goroutine.
type Dispatcher struct {
	log    *slog.Logger
	policy ChecksumPolicy
	pool   *reasm.JSONPool
	interp Interpreter
	image  Handler
	video  Handler

	packets    atomic.Int64
	pending    atomic.Int64
	completed  atomic.Int64
	dropped    atomic.Int64
	badSums    atomic.Int64
	jsonErrors atomic.Int64
	jsonStats  atomic.Pointer[reasm.PoolStats]
}

// New creates a Dispatcher. Any of interp, image, and video may be nil, in
// which case packets of that kind are dropped. If log is nil, slog.Default()
// is used.
func New(cfg Config, interp Interpreter, image, video Handler, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:    log.With("component", "dispatch"),
		policy: cfg.Checksum,
		pool:   reasm.NewJSONPool(cfg.JSON),
		interp: interp,
		image:  image,
		video:  video,
	}
}

// Dispatch routes one packet and reports what became of it.
func (d *Dispatcher) Dispatch(p wire.Packet) Outcome {
	d.packets.Add(1)
	o := d.route(p)
	switch o {
	case Pending:
		d.pending.Add(1)
	case Completed:
		d.completed.Add(1)
	case Dropped:
		d.dropped.Add(1)
	}
	return o
}

func (d *Dispatcher) route(p wire.Packet) Outcome {
	if d.policy != ChecksumIgnore && !p.ChecksumOK() {
		d.badSums.Add(1)
		d.log.Warn("checksum mismatch", "kind", p.Kind, "id", p.Header.ID,
			"stored", p.Tail.Checksum, "computed", p.ComputedChecksum())
		if d.policy == ChecksumDrop {
			return Dropped
		}
	}

	switch p.Kind {
	case wire.KindJSON:
		return d.routeJSON(p)
	case wire.KindImage:
		return d.routeMedia(d.image, p)
	case wire.KindVideo:
		return d.routeMedia(d.video, p)
	default:
		d.log.Debug("packet of unknown kind", "kind", p.Kind)
		return Dropped
	}
}

func (d *Dispatcher) routeJSON(p wire.Packet) Outcome {
	msg, err := d.pool.Append(p.Header.ID, p.Header.Index, p.Payload)
	st := d.pool.Stats()
	d.jsonStats.Store(&st)
	if errors.Is(err, reasm.ErrDiscarded) {
		d.log.Debug("json fragment discarded", "id", p.Header.ID, "index", p.Header.Index)
		return Dropped
	}
	if err != nil {
		d.log.Warn("json fragment dropped", "id", p.Header.ID, "index", p.Header.Index, "error", err)
		return Dropped
	}
	if msg == nil {
		return Pending
	}
	if d.interp == nil {
		return Dropped
	}
	if err := d.interp.Dispatch(command.Code(p.Header.Cmd), msg); err != nil {
		d.jsonErrors.Add(1)
		d.log.Debug("json message not interpreted", "cmd", command.Code(p.Header.Cmd), "bytes", len(msg), "error", err)
	}
	return Completed
}

func (d *Dispatcher) routeMedia(h Handler, p wire.Packet) Outcome {
	if h == nil {
		return Dropped
	}
	done, err := h.Handle(p)
	switch {
	case err != nil:
		d.log.Debug("media packet dropped", "kind", p.Kind, "id", p.Header.ID, "index", p.Header.Index, "error", err)
		return Dropped
	case done:
		return Completed
	default:
		return Pending
	}
}

// Stats returns a snapshot of the dispatch counters.
func (d *Dispatcher) Stats() Stats {
	var pool reasm.PoolStats
	if st := d.jsonStats.Load(); st != nil {
		pool = *st
	}
	return Stats{
		Packets:          d.packets.Load(),
		Pending:          d.pending.Load(),
		Completed:        d.completed.Load(),
		Dropped:          d.dropped.Load(),
		ChecksumFailures: d.badSums.Load(),
		JSONErrors:       d.jsonErrors.Load(),
		JSON:             pool,
	}
}
