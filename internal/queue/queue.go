// Package queue hands complete packets from the reader role to the consumer
// role. Push never blocks and Pop never blocks; a consumer waits on Wake
// instead of polling.
package queue

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zsiec/peerlink/internal/wire"
)

// ErrFull is returned by Push when a limit is set and reached. The packet is
// dropped, not queued.
var ErrFull = errors.New("queue: full")

type node struct {
	pkt  wire.Packet
	next *node
}

// Queue is a strict FIFO of packets guarded by a mutex held only around
// link manipulation.
type Queue struct {
	mu    sync.Mutex
	head  *node
	tail  *node
	n     int
	limit int

	wake chan struct{}

	pushed  atomic.Int64
	popped  atomic.Int64
	dropped atomic.Int64
}

// New creates a Queue. limit <= 0 means unbounded.
func New(limit int) *Queue {
	if limit < 0 {
		limit = 0
	}
	return &Queue{
		limit: limit,
		wake:  make(chan struct{}, 1),
	}
}

// Push appends p and signals Wake.
func (q *Queue) Push(p wire.Packet) error {
	q.mu.Lock()
	if q.limit > 0 && q.n >= q.limit {
		q.mu.Unlock()
		q.dropped.Add(1)
		return ErrFull
	}
	nd := &node{pkt: p}
	if q.tail == nil {
		q.head = nd
	} else {
		q.tail.next = nd
	}
	q.tail = nd
	q.n++
	q.mu.Unlock()

	q.pushed.Add(1)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the oldest packet. ok is false when the queue is empty.
func (q *Queue) Pop() (p wire.Packet, ok bool) {
	q.mu.Lock()
	nd := q.head
	if nd == nil {
		q.mu.Unlock()
		return wire.Packet{}, false
	}
	q.head = nd.next
	if q.head == nil {
		q.tail = nil
	}
	q.n--
	q.mu.Unlock()

	q.popped.Add(1)
	return nd.pkt, true
}

// Drain pops up to max packets in order. It never blocks.
func (q *Queue) Drain(max int) []wire.Packet {
	var out []wire.Packet
	for len(out) < max {
		p, ok := q.Pop()
		if !ok {
			break
		}
		out = append(out, p)
	}
	return out
}

// Wake is signalled after every Push. Several pushes may coalesce into a
// single signal, so a consumer must drain until Pop reports empty or its
// batch is spent, and re-check Len before sleeping again.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Clear releases every queued packet and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := q.n
	q.head, q.tail, q.n = nil, nil, 0
	q.mu.Unlock()
	return n
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Depth   int   `json:"depth"`
	Pushed  int64 `json:"pushed"`
	Popped  int64 `json:"popped"`
	Dropped int64 `json:"dropped"`
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Depth:   q.Len(),
		Pushed:  q.pushed.Load(),
		Popped:  q.popped.Load(),
		Dropped: q.dropped.Load(),
	}
}
