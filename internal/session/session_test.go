package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsiec/peerlink/internal/command"
	"github.com/zsiec/peerlink/internal/dispatch"
	"github.com/zsiec/peerlink/internal/extract"
	"github.com/zsiec/peerlink/internal/media"
	"github.com/zsiec/peerlink/internal/transport"
	"github.com/zsiec/peerlink/internal/wire"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type rig struct {
	sess    *Session
	device  *transport.Conn
	sink    *media.MemorySink
	dev     *command.Device
	streams *media.StreamManager
	cancel  context.CancelFunc
	errc    chan error
	once    sync.Once
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	host, device := transport.Pipe()

	router := command.NewRouter(nil)
	dev := command.NewDevice(router, nil)
	sink := media.NewMemorySink()
	streams := media.NewStreamManager(media.ManagerConfig{}, nil)
	disp := dispatch.New(dispatch.Config{}, router,
		media.NewImageHandler(0, sink, nil),
		media.NewVideoHandler(media.VideoConfig{}, streams, sink, nil), nil)

	s := New(cfg, Deps{
		Conn:       host,
		Dispatcher: disp,
		Client:     command.NewClient(host, command.ClientConfig{}, nil),
		Streams:    streams,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r := &rig{sess: s, device: device, sink: sink, dev: dev, streams: streams, cancel: cancel, errc: make(chan error, 1)}
	go func() { r.errc <- s.Run(ctx) }()
	waitFor(t, "session start", func() bool { return s.Stats().Running })

	t.Cleanup(func() {
		r.stop(t)
		device.Close()
		host.Close()
	})
	return r
}

func (r *rig) stop(t *testing.T) {
	t.Helper()
	r.once.Do(func() {
		r.cancel()
		select {
		case err := <-r.errc:
			if err != nil {
				t.Errorf("run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("session did not stop")
		}
	})
}

func (r *rig) write(t *testing.T, b []byte) {
	t.Helper()
	go func() { _, _ = r.device.Write(b) }()
}

func TestSessionEndToEnd(t *testing.T) {
	t.Parallel()
	r := newRig(t, Config{})

	var stream []byte
	stream = append(stream, []byte("garbage!")...)

	settings := []byte(`{"code":200,"cmd":2,"data":{"devName":"porch","firmwareVersion":"2.0"}}`)
	frags, err := wire.Fragment(wire.KindJSON, wire.Header{ID: 5, Cmd: uint16(command.SettingsGet)}, nil, settings, 16)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range frags {
		stream = append(stream, f...)
	}

	sub := wire.ImageHeader{Channel: 1, Encoding: 1, ImageLen: 100, PTS: 5555}.AppendTo(nil)
	first, _ := wire.Encode(wire.KindImage, wire.Header{ID: 7, Index: 1, SubHeader: 1}, sub)
	second, _ := wire.Encode(wire.KindImage, wire.Header{ID: 7}, bytes.Repeat([]byte{0xD8}, 100))
	stream = append(stream, first...)
	stream = append(stream, 0x00, 0x01)
	stream = append(stream, second...)

	r.write(t, stream)

	name := media.ImageName(1, 5555, media.ImageJPEG)
	waitFor(t, "image", func() bool { _, ok := r.sink.File(name); return ok })
	waitFor(t, "settings", func() bool { return r.dev.Settings() != nil })

	if got := r.dev.Settings().Name; got != "porch" {
		t.Fatalf("device name: got %q, want porch", got)
	}
	if n := r.sink.Writes(name); n != 1 {
		t.Fatalf("image writes: got %d, want 1", n)
	}

	waitFor(t, "dispatch counters", func() bool { return r.sess.Stats().Dispatch.Completed == 2 })

	st := r.sess.Stats()
	if st.BytesReceived != int64(len(stream)) {
		t.Fatalf("bytes: got %d, want %d", st.BytesReceived, len(stream))
	}
	if st.Extractor.SkippedBytes != 10 {
		t.Fatalf("skipped: got %d, want 10", st.Extractor.SkippedBytes)
	}
}

func TestSessionSend(t *testing.T) {
	t.Parallel()
	r := newRig(t, Config{})

	got := make(chan wire.Packet, 1)
	go func() {
		ex := extract.New(extract.DefaultLimits(), nil)
		buf := make([]byte, 512)
		for {
			n, err := r.device.Read(buf, time.Second)
			if n > 0 {
				_ = ex.Feed(buf[:n])
				if p, err := ex.Next(); err == nil {
					got <- p
					return
				}
			}
			if transport.Classify(err) == transport.StatusFatal {
				return
			}
		}
	}()

	if err := r.sess.StartLive(); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-got:
		if p.Header.Cmd != uint16(command.VideoStart) {
			t.Fatalf("cmd: got %#x, want %#x", p.Header.Cmd, uint16(command.VideoStart))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("device did not receive the command")
	}
	if st := r.sess.Stats(); st.CommandsSent != 1 {
		t.Fatalf("commands sent: got %d, want 1", st.CommandsSent)
	}
}

func TestSessionStopStream(t *testing.T) {
	t.Parallel()
	r := newRig(t, Config{})

	if _, err := r.streams.GetOrCreate(media.StreamSub); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.sess.StopStream(ctx, media.StreamSub); err != nil {
		t.Fatal(err)
	}
	s, ok := r.streams.Get(media.StreamSub)
	if !ok || !s.Stopped() {
		t.Fatal("stream not stopped")
	}
	if _, err := r.streams.GetOrCreate(media.StreamSub); !errors.Is(err, media.ErrStreamStopped) {
		t.Fatalf("recreate: got %v, want ErrStreamStopped", err)
	}

	r.stop(t)
	if err := r.sess.Do(ctx, func() error { return nil }); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("after stop: got %v, want ErrNotRunning", err)
	}
}

// scriptConn replays canned read results, then times out.
type scriptConn struct {
	mu    sync.Mutex
	reads [][]byte
	errs  []error
}

func (c *scriptConn) Read(p []byte, timeout time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return 0, err
	}
	if len(c.reads) > 0 {
		n := copy(p, c.reads[0])
		c.reads[0] = c.reads[0][n:]
		if len(c.reads[0]) == 0 {
			c.reads = c.reads[1:]
		}
		return n, nil
	}
	time.Sleep(time.Millisecond)
	return 0, transport.ErrTimeout
}

func (c *scriptConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *scriptConn) Close() error                { return nil }

type countingDispatcher struct {
	n atomic.Int64
}

func (d *countingDispatcher) Dispatch(wire.Packet) dispatch.Outcome {
	d.n.Add(1)
	return dispatch.Completed
}

func (d *countingDispatcher) Stats() dispatch.Stats { return dispatch.Stats{Packets: d.n.Load()} }

func packets(t *testing.T, n int) []byte {
	t.Helper()
	var out []byte
	for i := 0; i < n; i++ {
		raw, err := wire.Encode(wire.KindJSON, wire.Header{ID: uint16(i)}, []byte("{}"))
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, raw...)
	}
	return out
}

func TestSessionFatalRecovery(t *testing.T) {
	t.Parallel()
	conn := &scriptConn{
		errs:  []error{transport.ErrClosed, errors.New("reset"), transport.ErrClosed},
		reads: [][]byte{packets(t, 3)},
	}
	disp := &countingDispatcher{}
	s := New(Config{RecoveryPause: 5 * time.Millisecond}, Deps{Conn: conn, Dispatcher: disp}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	waitFor(t, "packets after recovery", func() bool { return disp.n.Load() == 3 })
	cancel()
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	st := s.Stats()
	if st.FatalErrors != 2 || st.TransientErrors != 1 {
		t.Fatalf("errors: got fatal %d transient %d, want 2 and 1", st.FatalErrors, st.TransientErrors)
	}
	if st.Running {
		t.Fatal("session still running")
	}
}

// blockingDispatcher parks the consumer on its first packet.
type blockingDispatcher struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (d *blockingDispatcher) Dispatch(wire.Packet) dispatch.Outcome {
	d.once.Do(func() {
		close(d.entered)
		<-d.release
	})
	return dispatch.Completed
}

func (d *blockingDispatcher) Stats() dispatch.Stats { return dispatch.Stats{} }

func TestSessionShutdownReleasesQueue(t *testing.T) {
	t.Parallel()
	const total = 50
	conn := &scriptConn{reads: [][]byte{packets(t, total)}}
	disp := &blockingDispatcher{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(Config{ReadChunk: 1 << 16, DrainBatch: 8}, Deps{Conn: conn, Dispatcher: disp}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	<-disp.entered
	waitFor(t, "all packets queued", func() bool { return s.Stats().Queue.Pushed == total })
	cancel()
	waitFor(t, "queue release", func() bool { return s.Stats().Released > 0 })
	close(disp.release)

	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	st := s.Stats()
	if want := total - st.Queue.Popped; st.Released != want {
		t.Fatalf("released: got %d, want %d", st.Released, want)
	}
	if st.Queue.Depth != 0 {
		t.Fatalf("depth: got %d, want 0", st.Queue.Depth)
	}
}

func TestSessionRunTwice(t *testing.T) {
	t.Parallel()
	s := New(Config{}, Deps{Conn: &scriptConn{}, Dispatcher: &countingDispatcher{}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	waitFor(t, "start", func() bool { return s.Stats().Running })

	if err := s.Run(ctx); !errors.Is(err, ErrRunning) {
		t.Fatalf("got %v, want ErrRunning", err)
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
}

// stuckConn blocks every read until release is closed, ignoring timeouts.
type stuckConn struct {
	entered chan struct{}
	once    sync.Once
	release chan struct{}
}

func (c *stuckConn) Read(p []byte, timeout time.Duration) (int, error) {
	c.once.Do(func() { close(c.entered) })
	<-c.release
	return 0, transport.ErrTimeout
}

func (c *stuckConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *stuckConn) Close() error                { return nil }

func TestSessionRestartWaitsForReader(t *testing.T) {
	t.Parallel()
	conn := &stuckConn{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(Config{StopTimeout: 20 * time.Millisecond}, Deps{Conn: conn, Dispatcher: &countingDispatcher{}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	<-conn.entered
	cancel()
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	// the first reader is still blocked inside Read
	if err := s.Run(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("restart with live reader: got %v, want ErrRunning", err)
	}
	if s.Stats().Running {
		t.Fatal("rejected restart left the session marked running")
	}

	close(conn.release)
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	errc2 := make(chan error, 1)
	waitFor(t, "restart", func() bool {
		s.mu.Lock()
		prev := s.readerDone
		s.mu.Unlock()
		select {
		case <-prev:
			return true
		default:
			return false
		}
	})
	go func() { errc2 <- s.Run(ctx2) }()
	waitFor(t, "second run", func() bool { return s.Stats().Running })
	cancel2()
	if err := <-errc2; err != nil {
		t.Fatal(err)
	}
}
