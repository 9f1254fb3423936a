// Package transport adapts byte-stream connections to the blocking,
// timeout-bounded read contract the session reader expects.
package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

var (
	// ErrTimeout means a read timed out without data. The session is intact.
	ErrTimeout = errors.New("transport: read timeout")
	// ErrClosed means the session ended: closed locally, by the remote, or
	// by the underlying connection failing.
	ErrClosed = errors.New("transport: session closed")
)

// Session is a connected device session.
type Session interface {
	// Read blocks for at most timeout and returns the bytes read. A timeout
	// with no data returns ErrTimeout.
	Read(p []byte, timeout time.Duration) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Waker is implemented by sessions whose blocked Read can be nudged to
// return early.
type Waker interface {
	Wake()
}

// Status classifies the result of a read.
type Status uint8

const (
	StatusOK Status = iota
	StatusTimeout
	StatusFatal
	StatusTransient
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusFatal:
		return "fatal"
	default:
		return "transient"
	}
}

// Classify maps a read error to a Status.
func Classify(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrTimeout), errors.Is(err, os.ErrDeadlineExceeded):
		return StatusTimeout
	case errors.Is(err, ErrClosed), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrClosedPipe), errors.Is(err, io.ErrUnexpectedEOF):
		return StatusFatal
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return StatusTimeout
	}
	return StatusTransient
}
