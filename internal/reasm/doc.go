// Package reasm rebuilds logical messages from their fragments.
//
// JSONPool keeps a small fixed set of concurrent slots keyed by package id,
// since command responses for different ids may interleave. Assembler holds
// exactly one in-flight media entity (an image or a video frame); media
// fragments for one entity are never interleaved with another on the wire.
//
// Both are owned by a single goroutine and do no locking.
package reasm

import "errors"

var (
	// ErrOverflow means a fragment would push an entity past its size cap.
	// The in-flight data was discarded.
	ErrOverflow = errors.New("reasm: reassembly overflow")
	// ErrPoolFull is returned by a JSONPool using the Reject policy when
	// every slot is busy with another id.
	ErrPoolFull = errors.New("reasm: all slots busy")
	// ErrDiscarded means a fragment belongs to a message that already
	// overflowed. The message never completes.
	ErrDiscarded = errors.New("reasm: fragment of overflowed message discarded")
	// ErrNoEntity means a continuation arrived with nothing in flight.
	ErrNoEntity = errors.New("reasm: no entity in flight")
	// ErrMismatch means a continuation arrived for a different id than the
	// one in flight.
	ErrMismatch = errors.New("reasm: fragment id mismatch")
)
