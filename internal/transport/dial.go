package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/quic-go/quic-go"
	srtgo "github.com/zsiec/srtgo"
)

// ALPN is the protocol negotiated on QUIC sessions.
const ALPN = "peerlink"

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// DialConfig configures Dial. Zero fields take defaults.
type DialConfig struct {
	Timeout time.Duration

	// TLS is used for quic:// targets. When nil, the system roots verify
	// the device certificate.
	TLS *tls.Config

	SRTStreamID string
}

// ErrScheme is returned for targets with an unsupported scheme.
var ErrScheme = errors.New("transport: unsupported target scheme")

// Dial connects to target, a URL of the form srt://host:port,
// quic://host:port, or tcp://host:port, and returns the session.
func Dial(ctx context.Context, target string, cfg DialConfig, log *slog.Logger) (*Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "transport")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("transport: parse target %q: %w", target, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("transport: target %q has no host", target)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	log.Info("dialing", "target", target)
	var c *Conn
	switch u.Scheme {
	case "srt":
		c, err = DialSRT(ctx, u.Host, cfg)
	case "quic":
		c, err = DialQUIC(ctx, u.Host, cfg)
	case "tcp":
		var d net.Dialer
		var nc net.Conn
		nc, err = d.DialContext(ctx, "tcp", u.Host)
		if err == nil {
			c = NewConn(nc)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrScheme, u.Scheme)
	}
	if err != nil {
		return nil, err
	}
	log.Info("connected", "target", target)
	return c, nil
}

// DialSRT dials an SRT listener in caller mode. srtgo's dial is not
// context-aware, so it runs on its own goroutine and a connection that
// arrives after ctx is done is closed.
func DialSRT(ctx context.Context, addr string, cfg DialConfig) (*Conn, error) {
	sc := srtgo.DefaultConfig()
	sc.Latency = srtLatencyNs
	if cfg.SRTStreamID != "" {
		sc.StreamID = cfg.SRTStreamID
	}

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, sc)
		ch <- dialResult{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial %s: %w", addr, res.err)
		}
		return NewConn(srtConn{res.conn}), nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("SRT dial %s: %w", addr, ctx.Err())
	}
}

// srtConn adapts an SRT connection to io.ReadWriteCloser. Reads go through
// the Conn pump.
type srtConn struct{ c *srtgo.Conn }

func (s srtConn) Read(p []byte) (int, error)  { return s.c.Read(p) }
func (s srtConn) Write(p []byte) (int, error) { return s.c.Write(p) }

func (s srtConn) Close() error {
	s.c.Close()
	return nil
}

// quicStream closes the connection along with its stream.
type quicStream struct {
	quic.Stream
	conn quic.Connection
}

func (s *quicStream) Close() error {
	s.Stream.CancelRead(0)
	err := s.Stream.Close()
	_ = s.conn.CloseWithError(0, "session closed")
	return err
}

// DialQUIC dials a QUIC endpoint and opens the one bidirectional stream the
// session runs on.
func DialQUIC(ctx context.Context, addr string, cfg DialConfig) (*Conn, error) {
	tlsConf := cfg.TLS
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	} else {
		tlsConf = tlsConf.Clone()
	}
	tlsConf.NextProtos = []string{ALPN}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("QUIC dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("QUIC open stream %s: %w", addr, err)
	}
	return NewConn(&quicStream{Stream: stream, conn: conn}), nil
}

// Pipe returns two connected in-memory sessions.
func Pipe() (*Conn, *Conn) {
	a, b := net.Pipe()
	return NewConn(a), NewConn(b)
}
