// Package session runs one device session: a reader goroutine turns
// transport bytes into packets on a queue, and a consumer goroutine drains
// the queue through the dispatcher and runs control actions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/peerlink/internal/command"
	"github.com/zsiec/peerlink/internal/dispatch"
	"github.com/zsiec/peerlink/internal/extract"
	"github.com/zsiec/peerlink/internal/media"
	"github.com/zsiec/peerlink/internal/queue"
	"github.com/zsiec/peerlink/internal/transport"
	"github.com/zsiec/peerlink/internal/wire"
)

var (
	// ErrNotRunning is returned by Do when the consumer is not running.
	ErrNotRunning = errors.New("session: not running")
	// ErrRunning is returned by Run on a session that is already running.
	ErrRunning = errors.New("session: already running")
)

// Config tunes the two roles. Zero fields take DefaultConfig values.
type Config struct {
	ReadTimeout   time.Duration // bound on one blocking transport read
	RecoveryPause time.Duration // sleep after a fatal read
	StopTimeout   time.Duration // wait for the reader on shutdown
	ReadChunk     int           // bytes per transport read
	DrainBatch    int           // packets dispatched per consumer iteration
	DrainInterval time.Duration // consumer tick when no wake arrives
	QueueLimit    int           // 0 = unbounded
	Limits        extract.Limits
}

// DefaultConfig mirrors the device client's timings.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:   500 * time.Millisecond,
		RecoveryPause: time.Second,
		StopTimeout:   2 * time.Second,
		ReadChunk:     4096,
		DrainBatch:    8,
		DrainInterval: 10 * time.Millisecond,
		Limits:        extract.DefaultLimits(),
	}
}

func (c *Config) fill() {
	d := DefaultConfig()
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.RecoveryPause <= 0 {
		c.RecoveryPause = d.RecoveryPause
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = d.ReadChunk
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = d.DrainBatch
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = d.DrainInterval
	}
}

// Dispatcher consumes packets on the consumer goroutine.
type Dispatcher interface {
	Dispatch(p wire.Packet) dispatch.Outcome
	Stats() dispatch.Stats
}

// Deps are the collaborators a Session drives.
type Deps struct {
	Conn       transport.Session
	Dispatcher Dispatcher
	Client     *command.Client
	Streams    *media.StreamManager
}

// Session owns the receive buffer and packet queue of one device session.
type Session struct {
	log  *slog.Logger
	cfg  Config
	conn transport.Session
	disp Dispatcher

	client  *command.Client
	streams *media.StreamManager

	ex *extract.Extractor
	q  *queue.Queue

	actions   chan func()
	running   atomic.Bool
	startedAt atomic.Int64

	mu         sync.Mutex
	done       chan struct{} // closed when the current Run returns
	readerDone chan struct{} // closed when the last reader goroutine exits

	bytesReceived atomic.Int64
	reads         atomic.Int64
	timeouts      atomic.Int64
	fatalErrors   atomic.Int64
	transient     atomic.Int64
	queueFull     atomic.Int64
	released      atomic.Int64
}

// New creates a Session. If log is nil, slog.Default() is used.
func New(cfg Config, deps Deps, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	cfg.fill()
	return &Session{
		log:     log.With("component", "session"),
		cfg:     cfg,
		conn:    deps.Conn,
		disp:    deps.Dispatcher,
		client:  deps.Client,
		streams: deps.Streams,
		ex:      extract.New(cfg.Limits, log),
		q:       queue.New(cfg.QueueLimit),
		actions: make(chan func()),
	}
}

// Run starts the reader and consumer roles and blocks until ctx is
// cancelled. On the way out it wakes the reader, waits for it at most
// StopTimeout, and releases any packets still queued.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	readerDone := make(chan struct{})
	done := make(chan struct{})
	s.mu.Lock()
	if prev := s.readerDone; prev != nil {
		select {
		case <-prev:
		default:
			// a reader that outlived StopTimeout still owns the extractor
			s.mu.Unlock()
			s.running.Store(false)
			return fmt.Errorf("%w: previous reader still active", ErrRunning)
		}
	}
	s.done = done
	s.readerDone = readerDone
	s.mu.Unlock()
	defer func() {
		close(done)
		s.running.Store(false)
	}()
	s.startedAt.Store(time.Now().UnixMilli())

	g, ctx := errgroup.WithContext(ctx)

	go func() {
		defer close(readerDone)
		s.read(ctx)
	}()

	g.Go(func() error {
		return s.consume(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		if w, ok := s.conn.(transport.Waker); ok {
			w.Wake()
		}
		timer := time.NewTimer(s.cfg.StopTimeout)
		defer timer.Stop()
		select {
		case <-readerDone:
		case <-timer.C:
			s.log.Warn("reader did not stop in time", "timeout", s.cfg.StopTimeout)
		}
		if n := s.q.Clear(); n > 0 {
			s.released.Add(int64(n))
			s.log.Info("released queued packets", "count", n)
		}
		return nil
	})

	err := g.Wait()
	s.log.Info("session stopped", "bytes", s.bytesReceived.Load(), "reads", s.reads.Load())
	return err
}

// read is the reader role.
func (s *Session) read(ctx context.Context) {
	buf := make([]byte, s.cfg.ReadChunk)
	for ctx.Err() == nil {
		n, err := s.conn.Read(buf, s.cfg.ReadTimeout)
		if n > 0 {
			s.bytesReceived.Add(int64(n))
			s.reads.Add(1)
			s.ingest(buf[:n])
		}

		switch transport.Classify(err) {
		case transport.StatusOK:
		case transport.StatusTimeout:
			s.timeouts.Add(1)
		case transport.StatusFatal:
			if ctx.Err() != nil {
				return
			}
			s.fatalErrors.Add(1)
			s.log.Warn("session read failed, pausing", "error", err, "pause", s.cfg.RecoveryPause)
			if !sleep(ctx, s.cfg.RecoveryPause) {
				return
			}
		default:
			s.transient.Add(1)
			s.log.Debug("transient read error", "error", err)
		}
	}
}

// ingest feeds one read into the extractor and queues every packet it
// completes.
func (s *Session) ingest(p []byte) {
	if err := s.ex.Feed(p); err != nil {
		s.log.Warn("receive buffer overflow, buffered data dropped", "error", err)
		return
	}
	for {
		pkt, err := s.ex.Next()
		if err != nil {
			return
		}
		if err := s.q.Push(pkt); err != nil {
			if s.queueFull.Add(1) == 1 {
				s.log.Warn("packet queue full, dropping packets", "limit", s.cfg.QueueLimit)
			}
		}
	}
}

// consume is the consumer role. It never blocks on the queue: it waits for
// a wake, a tick, or a control action, then dispatches at most one batch.
func (s *Session) consume(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		if s.q.Len() > 0 {
			s.drain()
			select {
			case <-ctx.Done():
				return nil
			case fn := <-s.actions:
				fn()
			default:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case fn := <-s.actions:
			fn()
		case <-s.q.Wake():
		case <-ticker.C:
		}
	}
}

func (s *Session) drain() {
	for _, p := range s.q.Drain(s.cfg.DrainBatch) {
		s.disp.Dispatch(p)
	}
}

// Do runs fn on the consumer goroutine, between packet batches, and returns
// its error.
func (s *Session) Do(ctx context.Context, fn func() error) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	errc := make(chan error, 1)
	select {
	case s.actions <- func() { errc <- fn() }:
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes one command to the device.
func (s *Session) Send(code command.Code, data any) (command.Request, error) {
	if s.client == nil {
		return command.Request{}, fmt.Errorf("session: no command client")
	}
	return s.client.Send(code, data)
}

// StopStream closes the decoder and display of stream t and keeps it from
// being recreated. Frames already queued for it are dropped as they arrive.
func (s *Session) StopStream(ctx context.Context, t media.StreamType) error {
	if s.streams == nil {
		return fmt.Errorf("session: no stream manager")
	}
	return s.Do(ctx, func() error { return s.streams.Stop(t) })
}

// StartLive asks the device to start the live video stream.
func (s *Session) StartLive() error {
	_, err := s.Send(command.VideoStart, nil)
	return err
}

// StopLive asks the device to stop live video and stops the main stream.
func (s *Session) StopLive(ctx context.Context) error {
	if _, err := s.Send(command.VideoStop, nil); err != nil {
		return err
	}
	return s.StopStream(ctx, media.StreamMain)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
