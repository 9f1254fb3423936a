package reasm

import "fmt"

// State of an Assembler.
type State int

const (
	Idle State = iota
	Assembling
)

func (s State) String() string {
	if s == Assembling {
		return "assembling"
	}
	return "idle"
}

// DefaultMediaMax is the accumulation ceiling for one media entity.
const DefaultMediaMax = 1 << 20

// Entity is a completed media object: the descriptor captured from its
// sub-header and the concatenated fragment payloads.
type Entity[D any] struct {
	ID   uint16
	Desc D
	Data []byte
}

// Assembler rebuilds one media entity at a time. D is the descriptor type
// captured when the entity starts.
type Assembler[D any] struct {
	max   int
	state State
	id    uint16
	desc  D
	buf   []byte
}

// NewAssembler creates an idle Assembler capped at max bytes per entity.
func NewAssembler[D any](max int) *Assembler[D] {
	if max <= 0 {
		max = DefaultMediaMax
	}
	return &Assembler[D]{max: max}
}

// Start opens a new entity. Any entity already in flight is discarded
// without delivery; discarded reports whether that happened.
func (a *Assembler[D]) Start(id uint16, desc D) (discarded bool) {
	discarded = a.state == Assembling
	a.state = Assembling
	a.id = id
	a.desc = desc
	a.buf = a.buf[:0]
	return discarded
}

// Add appends a fragment payload to the in-flight entity. When terminal is
// set the entity is returned and the assembler goes idle. ErrNoEntity and
// ErrMismatch leave the in-flight entity untouched; ErrOverflow discards it.
func (a *Assembler[D]) Add(id uint16, terminal bool, payload []byte) (*Entity[D], error) {
	if a.state != Assembling {
		return nil, fmt.Errorf("%w: id %d", ErrNoEntity, id)
	}
	if id != a.id {
		return nil, fmt.Errorf("%w: got id %d, assembling %d", ErrMismatch, id, a.id)
	}
	if len(a.buf)+len(payload) > a.max {
		size := len(a.buf) + len(payload)
		a.Reset()
		return nil, fmt.Errorf("%w: id %d reached %d bytes, cap %d", ErrOverflow, id, size, a.max)
	}
	a.buf = append(a.buf, payload...)
	if !terminal {
		return nil, nil
	}
	e := &Entity[D]{ID: a.id, Desc: a.desc, Data: a.buf}
	a.buf = nil
	a.Reset()
	return e, nil
}

// Reset discards the in-flight entity, if any.
func (a *Assembler[D]) Reset() {
	var zero D
	a.state = Idle
	a.id = 0
	a.desc = zero
	a.buf = a.buf[:0]
}

// State returns the current state.
func (a *Assembler[D]) State() State { return a.state }

// InFlight returns the id and buffered size of the entity being assembled.
// ok is false when idle.
func (a *Assembler[D]) InFlight() (id uint16, size int, ok bool) {
	if a.state != Assembling {
		return 0, 0, false
	}
	return a.id, len(a.buf), true
}
