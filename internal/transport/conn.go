package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Conn adapts an io.ReadWriteCloser to Session. Connections that support
// read deadlines are read directly; anything else is read by a pump
// goroutine so Read can still honor its timeout.
type Conn struct {
	rwc io.ReadWriteCloser
	dl  readDeadliner

	closed    atomic.Bool
	woken     atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	wake      chan struct{}

	pumpOnce sync.Once
	chunks   chan []byte
	pumpErr  error // written by the pump before chunks is closed
	pending  []byte
}

// NewConn wraps rwc.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	c := &Conn{
		rwc:  rwc,
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
	}
	if dl, ok := rwc.(readDeadliner); ok {
		c.dl = dl
	}
	return c
}

// Read implements Session.
func (c *Conn) Read(p []byte, timeout time.Duration) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if c.dl != nil {
		return c.readDeadline(p, timeout)
	}
	return c.readPump(p, timeout)
}

func (c *Conn) readDeadline(p []byte, timeout time.Duration) (int, error) {
	if err := c.dl.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, c.wrap(err)
	}
	// a Wake that raced with the deadline reset above
	if c.woken.Swap(false) {
		return 0, ErrTimeout
	}
	n, err := c.rwc.Read(p)
	if n > 0 {
		return n, nil
	}
	return 0, c.wrap(err)
}

func (c *Conn) readPump(p []byte, timeout time.Duration) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	c.pumpOnce.Do(func() {
		c.chunks = make(chan []byte, 4)
		go c.pump(len(p))
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b, ok := <-c.chunks:
		if !ok {
			return 0, c.wrap(c.pumpErr)
		}
		n := copy(p, b)
		c.pending = b[n:]
		return n, nil
	case <-timer.C:
		return 0, ErrTimeout
	case <-c.wake:
		return 0, ErrTimeout
	case <-c.done:
		return 0, ErrClosed
	}
}

func (c *Conn) pump(size int) {
	defer close(c.chunks)
	for {
		buf := make([]byte, size)
		n, err := c.rwc.Read(buf)
		if n > 0 {
			select {
			case c.chunks <- buf[:n]:
			case <-c.done:
				return
			}
		}
		if err != nil {
			c.pumpErr = err
			return
		}
	}
}

// wrap maps connection errors onto ErrTimeout and ErrClosed where they
// apply and keeps the original error in the chain.
func (c *Conn) wrap(err error) error {
	if err == nil {
		return ErrTimeout
	}
	if c.closed.Load() {
		return ErrClosed
	}
	switch Classify(err) {
	case StatusTimeout:
		return ErrTimeout
	case StatusFatal:
		if errors.Is(err, ErrClosed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}

// Write implements Session.
func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	n, err := c.rwc.Write(p)
	if err != nil {
		return n, c.wrap(err)
	}
	return n, nil
}

// Wake makes a blocked Read return ErrTimeout.
func (c *Conn) Wake() {
	if c.dl != nil {
		c.woken.Store(true)
		_ = c.dl.SetReadDeadline(time.Now())
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close closes the underlying connection. Blocked and later reads return
// ErrClosed.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.rwc.Close()
	})
	return err
}
