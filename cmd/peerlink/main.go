package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/peerlink/internal/api"
	"github.com/zsiec/peerlink/internal/certs"
	"github.com/zsiec/peerlink/internal/codec"
	"github.com/zsiec/peerlink/internal/command"
	"github.com/zsiec/peerlink/internal/config"
	"github.com/zsiec/peerlink/internal/dispatch"
	"github.com/zsiec/peerlink/internal/media"
	"github.com/zsiec/peerlink/internal/session"
	"github.com/zsiec/peerlink/internal/transport"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	live := flag.Bool("live", false, "start the live main stream after connecting")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	level, _ := cfg.Level()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("peerlink starting",
		"version", version,
		"target", cfg.Target,
		"api", cfg.APIAddr,
		"output", cfg.OutputDir,
	)

	if err := run(ctx, cfg, *live || cfg.StartLive); err != nil {
		slog.Error("peerlink error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, live bool) error {
	log := slog.Default()

	dialCfg := transport.DialConfig{Timeout: cfg.DialTimeout, SRTStreamID: cfg.SRTStreamID}
	if cfg.Fingerprint != "" {
		fp, err := certs.ParseFingerprint(cfg.Fingerprint)
		if err != nil {
			return fmt.Errorf("quic_fingerprint: %w", err)
		}
		dialCfg.TLS = certs.PinnedConfig(fp)
	} else if strings.HasPrefix(cfg.Target, "quic://") {
		log.Warn("no quic_fingerprint configured; verifying the device against system roots")
		dialCfg.TLS = &tls.Config{MinVersion: tls.VersionTLS13}
	}

	conn, err := transport.Dial(ctx, cfg.Target, dialCfg, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	sink, err := media.NewFileSink(cfg.OutputDir)
	if err != nil {
		return err
	}
	defer sink.Close()

	events := api.NewHub()

	streams := media.NewStreamManager(media.ManagerConfig{NewDecoder: codec.Factory(log)}, log)
	defer streams.Close()

	images := media.NewImageHandler(cfg.MediaMax, sink, log)
	images.OnImage = func(img media.Image) {
		events.Publish("image", map[string]any{
			"name":    img.Name,
			"size":    img.Size,
			"channel": img.Header.Channel,
		})
	}
	video := media.NewVideoHandler(cfg.Video(), streams, sink, log)

	router := command.NewRouter(log)
	device := command.NewDevice(router, log)
	router.Observe(func(code command.Code, resp command.Response) {
		events.Publish("response", map[string]any{
			"cmd":  code.String(),
			"code": resp.Code,
			"seq":  resp.Seq,
			"ack":  resp.Ack,
		})
	})

	disp := dispatch.New(cfg.Dispatch(), router, images, video, log)
	client := command.NewClient(conn, cfg.Client(), log)

	sess := session.New(cfg.Session(), session.Deps{
		Conn:       conn,
		Dispatcher: disp,
		Client:     client,
		Streams:    streams,
	}, log)

	apiSrv, err := api.NewServer(api.ServerConfig{
		Addr:       cfg.APIAddr,
		Controller: sess,
		Device:     device,
		Events:     events,
	}, log)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sess.Run(ctx)
	})

	g.Go(func() error {
		return apiSrv.Start(ctx)
	})

	g.Go(func() error {
		return startup(ctx, sess, live, log)
	})

	return g.Wait()
}

// startup queries the device state and optionally starts live video.
func startup(ctx context.Context, sess *session.Session, live bool, log *slog.Logger) error {
	if _, err := sess.Send(command.SettingsGet, nil); err != nil {
		log.Warn("settings request failed", "error", err)
	}
	if _, err := sess.Send(command.RecordListGet, command.RecordRange(time.Now())); err != nil {
		log.Warn("record list request failed", "error", err)
	}
	if !live {
		return nil
	}
	if err := sess.StartLive(); err != nil {
		return fmt.Errorf("start live: %w", err)
	}
	<-ctx.Done()

	// best effort; the transport may already be gone
	if _, err := sess.Send(command.VideoStop, nil); err != nil {
		log.Debug("video stop not sent", "error", err)
	}
	return nil
}
