// Command devsim is a stand-in camera for local testing. It listens on a
// tcp://, quic:// or srt:// URL and serves each peerlink client that
// connects.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/zsiec/peerlink/internal/certs"
	"github.com/zsiec/peerlink/internal/transport"
)

func main() {
	listen := flag.String("listen", envOr("DEVSIM_LISTEN", "tcp://127.0.0.1:9000"), "listen URL (tcp://, quic://, srt://)")
	name := flag.String("name", "devsim", "device name reported in settings")
	fps := flag.Int("fps", 15, "live stream frame rate")
	chunk := flag.Int("chunk", 1024, "payload bytes per fragment")
	garbage := flag.Bool("garbage", false, "write junk bytes between packets")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	l, err := listenTarget(*listen)
	if err != nil {
		slog.Error("listen failed", "error", err)
		os.Exit(1)
	}
	slog.Info("devsim listening", "addr", l.Addr(), "target", *listen)

	cfg := simConfig{Name: *name, FPS: *fps, Chunk: *chunk, Garbage: *garbage}
	serveListener(ctx, l, cfg, slog.Default())
}

func listenTarget(target string) (transport.Listener, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "quic" {
		return transport.Listen(target, nil)
	}
	cert, err := certs.Generate(certs.DefaultValidity)
	if err != nil {
		return nil, err
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"hint", "set quic_fingerprint in the peerlink config",
	)
	return transport.Listen(target, cert.ServerConfig(transport.ALPN))
}

// serveListener accepts sessions until ctx is cancelled, then closes the
// listener and waits for every session to finish.
func serveListener(ctx context.Context, l transport.Listener, cfg simConfig, log *slog.Logger) {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() == nil {
				log.Error("accept failed", "error", err)
			}
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			log.Info("client connected")
			if err := newDevice(conn, cfg, log).serve(ctx); err != nil {
				log.Warn("session ended", "error", err)
			}
		}()
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
