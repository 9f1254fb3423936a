package reasm

import (
	"fmt"
	"strings"
)

// Eviction selects what a JSONPool does when a new id arrives and every slot
// is busy.
type Eviction int

const (
	// EvictOldest recycles the slot that was claimed longest ago.
	EvictOldest Eviction = iota
	// EvictFirst always recycles slot 0.
	EvictFirst
	// Reject drops the new fragment with ErrPoolFull.
	Reject
)

// ParseEviction maps a config string to an Eviction.
func ParseEviction(s string) (Eviction, error) {
	switch strings.ToLower(s) {
	case "", "oldest":
		return EvictOldest, nil
	case "first":
		return EvictFirst, nil
	case "reject":
		return Reject, nil
	}
	return 0, fmt.Errorf("reasm: unknown eviction policy %q", s)
}

func (e Eviction) String() string {
	switch e {
	case EvictOldest:
		return "oldest"
	case EvictFirst:
		return "first"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("Eviction(%d)", int(e))
}

// Pool defaults.
const (
	DefaultSlots   = 8
	DefaultJSONMax = 64 * 1024
)

// PoolConfig sizes a JSONPool. Zero values take the defaults.
type PoolConfig struct {
	Slots    int
	MaxSize  int
	Eviction Eviction
}

type slot struct {
	active   bool
	dropping bool // overflowed; discard until the terminal fragment
	id       uint16
	gen      uint64
	buf      []byte
}

// PoolStats is a snapshot of JSONPool counters.
type PoolStats struct {
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Overflows int64 `json:"overflows"`
	Evictions int64 `json:"evictions"`
	Rejected  int64 `json:"rejected"`
}

// JSONPool reassembles fragmented JSON payloads keyed by package id.
type JSONPool struct {
	slots    []slot
	max      int
	eviction Eviction
	gen      uint64

	completed int64
	overflows int64
	evictions int64
	rejected  int64
}

// NewJSONPool creates a pool.
func NewJSONPool(cfg PoolConfig) *JSONPool {
	if cfg.Slots <= 0 {
		cfg.Slots = DefaultSlots
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultJSONMax
	}
	return &JSONPool{
		slots:    make([]slot, cfg.Slots),
		max:      cfg.MaxSize,
		eviction: cfg.Eviction,
	}
}

// Append adds a fragment for id. Fragments accumulate in arrival order and
// the fragment with index 0 completes the message: the whole buffer is
// returned and the slot is freed. A nil result with a nil error means the
// message is still pending.
//
// A message that exceeds the cap never completes: the overflowing fragment
// returns ErrOverflow and every later fragment of that id, the terminal one
// included, returns ErrDiscarded. The slot is freed by the terminal fragment.
// Empty fragments are ignored unless they terminate an active message.
func (p *JSONPool) Append(id, index uint16, frag []byte) ([]byte, error) {
	s := p.find(id)
	if s != nil && s.dropping {
		if index == 0 {
			p.release(s)
		}
		return nil, fmt.Errorf("%w: id %d index %d", ErrDiscarded, id, index)
	}
	if len(frag) == 0 {
		if index != 0 || s == nil {
			return nil, nil
		}
		return p.complete(s), nil
	}

	size := len(frag)
	if s != nil {
		size += len(s.buf)
	}
	if size > p.max {
		p.overflows++
		if s != nil {
			if index == 0 {
				p.release(s)
			} else {
				s.dropping = true
				s.buf = s.buf[:0]
			}
		} else if index != 0 {
			// claim a slot only to remember the id, never by eviction
			if free := p.spare(); free != nil {
				p.claim(free, id)
				free.dropping = true
			}
		}
		return nil, fmt.Errorf("%w: id %d reached %d bytes, cap %d", ErrOverflow, id, size, p.max)
	}

	if s == nil {
		var err error
		if s, err = p.slotFor(id); err != nil {
			return nil, err
		}
	}
	s.buf = append(s.buf, frag...)
	if index != 0 {
		return nil, nil
	}
	return p.complete(s), nil
}

func (p *JSONPool) complete(s *slot) []byte {
	msg := s.buf
	s.buf = nil
	p.release(s)
	p.completed++
	return msg
}

// Active returns the number of busy slots, including those discarding an
// overflowed message.
func (p *JSONPool) Active() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].active {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of pool counters.
func (p *JSONPool) Stats() PoolStats {
	return PoolStats{
		Active:    p.Active(),
		Completed: p.completed,
		Overflows: p.overflows,
		Evictions: p.evictions,
		Rejected:  p.rejected,
	}
}

func (p *JSONPool) find(id uint16) *slot {
	for i := range p.slots {
		if s := &p.slots[i]; s.active && s.id == id {
			return s
		}
	}
	return nil
}

// spare returns an idle slot, or failing that one discarding an overflowed
// message.
func (p *JSONPool) spare() *slot {
	var dropping *slot
	for i := range p.slots {
		s := &p.slots[i]
		if !s.active {
			return s
		}
		if s.dropping && dropping == nil {
			dropping = s
		}
	}
	return dropping
}

// slotFor claims a slot for a new id, evicting per policy when all are busy.
func (p *JSONPool) slotFor(id uint16) (*slot, error) {
	free := p.spare()
	if free == nil {
		switch p.eviction {
		case Reject:
			p.rejected++
			return nil, fmt.Errorf("%w: id %d", ErrPoolFull, id)
		case EvictFirst:
			free = &p.slots[0]
		default:
			free = &p.slots[0]
			for i := range p.slots {
				if p.slots[i].gen < free.gen {
					free = &p.slots[i]
				}
			}
		}
		p.evictions++
	}
	p.claim(free, id)
	return free, nil
}

func (p *JSONPool) claim(s *slot, id uint16) {
	p.gen++
	s.active = true
	s.dropping = false
	s.id = id
	s.gen = p.gen
	s.buf = s.buf[:0]
}

func (p *JSONPool) release(s *slot) {
	s.active = false
	s.dropping = false
	s.id = 0
	s.buf = s.buf[:0]
}
