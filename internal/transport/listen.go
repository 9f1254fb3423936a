package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/quic-go/quic-go"
	srtgo "github.com/zsiec/srtgo"
)

// Listener accepts device-side sessions. It is used by the device simulator
// and by tests.
type Listener interface {
	// Accept blocks until a session arrives or the listener is closed.
	Accept() (*Conn, error)
	Addr() string
	Close() error
}

// Listen listens on target, a URL of the form srt://host:port,
// quic://host:port, or tcp://host:port. quic:// requires tlsConf.
func Listen(target string, tlsConf *tls.Config) (Listener, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("transport: parse target %q: %w", target, err)
	}
	switch u.Scheme {
	case "tcp":
		l, err := net.Listen("tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("TCP listen on %s: %w", u.Host, err)
		}
		return &tcpListener{l: l}, nil
	case "srt":
		return listenSRT(u.Host)
	case "quic":
		return listenQUIC(u.Host, tlsConf)
	}
	return nil, fmt.Errorf("%w: %q", ErrScheme, u.Scheme)
}

type tcpListener struct{ l net.Listener }

func (t *tcpListener) Accept() (*Conn, error) {
	c, err := t.l.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(c), nil
}

func (t *tcpListener) Addr() string { return t.l.Addr().String() }
func (t *tcpListener) Close() error { return t.l.Close() }

type srtListener struct {
	accept func() (*srtgo.Conn, error)
	close  func()
	addr   string
}

func listenSRT(addr string) (*srtListener, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	l, err := srtgo.Listen(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("SRT listen on %s: %w", addr, err)
	}
	return &srtListener{accept: l.Accept, close: func() { l.Close() }, addr: addr}, nil
}

func (s *srtListener) Accept() (*Conn, error) {
	c, err := s.accept()
	if err != nil {
		return nil, err
	}
	return NewConn(srtConn{c}), nil
}

func (s *srtListener) Addr() string { return s.addr }

func (s *srtListener) Close() error {
	s.close()
	return nil
}

type quicListener struct {
	l      *quic.Listener
	ctx    context.Context
	cancel context.CancelFunc
}

func listenQUIC(addr string, tlsConf *tls.Config) (*quicListener, error) {
	if tlsConf == nil {
		return nil, fmt.Errorf("QUIC listen on %s: TLS config required", addr)
	}
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{ALPN}
	l, err := quic.ListenAddr(addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("QUIC listen on %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &quicListener{l: l, ctx: ctx, cancel: cancel}, nil
}

// Accept waits for a connection and its first bidirectional stream. The
// stream becomes visible once the client writes to it.
func (q *quicListener) Accept() (*Conn, error) {
	for {
		conn, err := q.l.Accept(q.ctx)
		if err != nil {
			return nil, err
		}
		stream, err := conn.AcceptStream(q.ctx)
		if err != nil {
			_ = conn.CloseWithError(0, "no stream")
			if q.ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		return NewConn(&quicStream{Stream: stream, conn: conn}), nil
	}
}

func (q *quicListener) Addr() string { return q.l.Addr().String() }

func (q *quicListener) Close() error {
	q.cancel()
	return q.l.Close()
}
