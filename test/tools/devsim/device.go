package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/peerlink/internal/command"
	"github.com/zsiec/peerlink/internal/extract"
	"github.com/zsiec/peerlink/internal/transport"
	"github.com/zsiec/peerlink/internal/wire"
)

type simConfig struct {
	Name    string
	FPS     int
	Chunk   int  // payload bytes per fragment
	Garbage bool // interleave junk bytes between packets
}

func (c *simConfig) fill() {
	if c.Name == "" {
		c.Name = "devsim"
	}
	if c.FPS <= 0 {
		c.FPS = 15
	}
	if c.Chunk <= 0 {
		c.Chunk = 1024
	}
}

// junk never contains a packet prefix, so the client skips it byte by byte.
var junk = []byte{0x00, 0xff, 0x13, 0x37, 'n', 'o', 'i', 's', 'e'}

// device answers one client session the way a camera does: JSON responses to
// commands, a live H.264 main stream after VIDEO_START, and a JPEG image per
// snapshot request.
type device struct {
	log  *slog.Logger
	conn *transport.Conn
	cfg  simConfig

	wmu sync.Mutex

	ids    atomic.Uint32
	frames atomic.Int64

	liveMu   sync.Mutex
	liveStop context.CancelFunc
	liveDone chan struct{}
}

func newDevice(conn *transport.Conn, cfg simConfig, log *slog.Logger) *device {
	cfg.fill()
	if log == nil {
		log = slog.Default()
	}
	return &device{
		log:  log.With("component", "devsim"),
		conn: conn,
		cfg:  cfg,
	}
}

// serve reads commands until ctx is cancelled or the client goes away.
func (d *device) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer d.stopLive()

	ext := extract.New(extract.DefaultLimits(), d.log)
	buf := make([]byte, 4096)
	for ctx.Err() == nil {
		n, err := d.conn.Read(buf, 500*time.Millisecond)
		if n > 0 {
			if ferr := ext.Feed(buf[:n]); ferr != nil {
				d.log.Warn("receive buffer overflow", "error", ferr)
			}
			for {
				p, nerr := ext.Next()
				if errors.Is(nerr, extract.ErrNeedMore) {
					break
				}
				if nerr != nil {
					d.log.Debug("bad packet", "error", nerr)
					break
				}
				if herr := d.handle(ctx, p); herr != nil {
					if transport.Classify(herr) == transport.StatusFatal {
						d.log.Info("client disconnected")
						return nil
					}
					return herr
				}
			}
		}
		switch transport.Classify(err) {
		case transport.StatusOK, transport.StatusTimeout:
		case transport.StatusFatal:
			d.log.Info("client disconnected")
			return nil
		default:
			d.log.Debug("read error", "error", err)
		}
	}
	return nil
}

type inbound struct {
	Cmd  command.Code    `json:"cmd"`
	Seq  uint32          `json:"seq"`
	Def  string          `json:"def"`
	Data json.RawMessage `json:"data"`
}

func (d *device) handle(ctx context.Context, p wire.Packet) error {
	if p.Kind != wire.KindJSON {
		return nil
	}
	var req inbound
	if err := json.Unmarshal(p.Payload, &req); err != nil {
		d.log.Warn("invalid command", "error", err)
		return nil
	}
	if req.Cmd == 0 {
		req.Cmd = command.Code(p.Header.Cmd)
	}
	d.log.Info("command", "cmd", req.Cmd, "seq", req.Seq)

	switch req.Cmd {
	case command.SettingsGet:
		return d.respond(req, d.settings())
	case command.RecordListGet:
		var tr command.TimeRange
		if len(req.Data) > 0 {
			_ = json.Unmarshal(req.Data, &tr)
		}
		return d.respond(req, recordList(tr))
	case command.VideoStart:
		if err := d.respond(req, nil); err != nil {
			return err
		}
		d.startLive(ctx)
		return nil
	case command.VideoStop:
		d.stopLive()
		return d.respond(req, nil)
	case command.SnapshotImg:
		if err := d.respond(req, nil); err != nil {
			return err
		}
		return d.sendImage()
	}
	return d.respond(req, nil)
}

func (d *device) settings() command.Settings {
	return command.Settings{
		Name:            d.cfg.Name,
		Type:            1,
		MAC:             "02:00:5e:10:00:01",
		FirmwareVersion: "1.4.7",
		HardwareVersion: "B2",
		SDCard:          &command.SDCard{Status: 1, Capacity: 32768, Usage: 1024},
	}
}

func recordList(tr command.TimeRange) map[string]any {
	if tr.End == 0 {
		tr = command.RecordRange(time.Now())
	}
	var list []map[string]any
	for start := tr.Start; start+600 <= tr.End && len(list) < 4; start += 3600 {
		list = append(list, map[string]any{
			"startTime": start,
			"endTime":   start + 600,
			"recType":   1,
			"size":      48 << 20,
			"frameRate": 15,
			"codeType":  1,
		})
	}
	return map[string]any{"recordList": list}
}

func (d *device) respond(req inbound, data any) error {
	msg := map[string]any{
		"code": 200,
		"ack":  true,
		"cmd":  req.Cmd,
		"seq":  req.Seq,
		"def":  req.Cmd.Def(),
	}
	if data != nil {
		msg["data"] = data
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	pkts, err := wire.Fragment(wire.KindJSON, d.header(uint16(req.Cmd)), nil, body, d.cfg.Chunk)
	if err != nil {
		return err
	}
	return d.write(pkts)
}

func (d *device) header(cmd uint16) wire.Header {
	return wire.Header{ID: uint16(d.ids.Add(1)), Cmd: cmd}
}

// write sends one fragment group without interleaving other groups.
func (d *device) write(pkts [][]byte) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	for _, p := range pkts {
		if d.cfg.Garbage {
			if _, err := d.conn.Write(junk); err != nil {
				return err
			}
		}
		if _, err := d.conn.Write(p); err != nil {
			return err
		}
	}
	return nil
}

func (d *device) startLive(ctx context.Context) {
	d.liveMu.Lock()
	defer d.liveMu.Unlock()
	if d.liveStop != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.liveStop, d.liveDone = cancel, done

	go func() {
		defer close(done)
		d.log.Info("live stream started", "fps", d.cfg.FPS)
		ticker := time.NewTicker(time.Second / time.Duration(d.cfg.FPS))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				d.log.Info("live stream stopped", "frames", d.frames.Load())
				return
			case now := <-ticker.C:
				if err := d.sendFrame(now); err != nil {
					d.log.Warn("frame write failed", "error", err)
					return
				}
			}
		}
	}()
}

func (d *device) stopLive() {
	d.liveMu.Lock()
	stop, done := d.liveStop, d.liveDone
	d.liveStop, d.liveDone = nil, nil
	d.liveMu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

func (d *device) sendFrame(now time.Time) error {
	n := d.frames.Add(1) - 1
	key := n%int64(d.cfg.FPS) == 0
	frame := h264Frame(key, n)

	vh := wire.VideoHeader{
		StreamType: 1,
		Encoding:   1,
		FrameType:  2,
		Channel:    1,
		Hour:       uint8(now.Hour()),
		Minute:     uint8(now.Minute()),
		Second:     uint8(now.Second()),
		FrameRate:  uint8(d.cfg.FPS),
		FrameLen:   int32(len(frame)),
		Width:      1280,
		Height:     720,
		PTS:        uint64(now.UnixMilli()),
	}
	if key {
		vh.FrameType = 1
	}
	pkts, err := wire.Fragment(wire.KindVideo, d.header(0), vh.AppendTo(nil), frame, d.cfg.Chunk)
	if err != nil {
		return err
	}
	return d.write(pkts)
}

func (d *device) sendImage() error {
	img := jpegImage(640, 360)
	ih := wire.ImageHeader{
		ImageType: 1,
		Encoding:  1,
		Channel:   1,
		Width:     640,
		Height:    360,
		ImageLen:  int32(len(img)),
		PTS:       uint64(time.Now().UnixMilli()),
	}
	pkts, err := wire.Fragment(wire.KindImage, d.header(uint16(command.SnapshotImg)), ih.AppendTo(nil), img, d.cfg.Chunk)
	if err != nil {
		return err
	}
	return d.write(pkts)
}
