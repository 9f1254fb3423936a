package command

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/peerlink/internal/wire"
)

// DefaultMaxPacket is the largest outbound command packet.
const DefaultMaxPacket = 4096

// ClientConfig configures a Client. Zero fields take defaults.
type ClientConfig struct {
	ID        string
	User      string
	MaxPacket int
}

// Client builds command requests and writes them as single JSON packets.
// Package ids start at 1 and sequence numbers at 0; both increase by one per
// request. Send is safe for concurrent use.
type Client struct {
	w    io.Writer
	log  *slog.Logger
	id   string
	user string
	max  int

	mu    sync.Mutex
	pkgID atomic.Uint32
	seq   atomic.Uint32
	sent  atomic.Int64
	bytes atomic.Int64
}

// NewClient creates a Client writing to w. If log is nil, slog.Default() is used.
func NewClient(w io.Writer, cfg ClientConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ID == "" {
		cfg.ID = DefaultClientID
	}
	if cfg.User == "" {
		cfg.User = DefaultClientUser
	}
	if cfg.MaxPacket <= 0 {
		cfg.MaxPacket = DefaultMaxPacket
	}
	return &Client{
		w:    w,
		log:  log.With("component", "command"),
		id:   cfg.ID,
		user: cfg.User,
		max:  cfg.MaxPacket,
	}
}

// NewRequest fills in the envelope for code and allocates a sequence number.
func (c *Client) NewRequest(code Code, data any) Request {
	return Request{
		Version: Version,
		Seq:     c.seq.Add(1) - 1,
		Cmd:     code,
		Def:     code.Def(),
		ID:      c.id,
		User:    c.user,
		Data:    data,
	}
}

// Build serializes a request into a wire packet under a fresh package id.
func (c *Client) Build(req Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("command: marshal %s: %w", req.Cmd, err)
	}
	id := uint16(c.pkgID.Add(1))
	return wire.BuildCommand(body, id, uint16(req.Cmd), c.max)
}

// Send builds a request for code with optional data and writes it. The
// returned Request carries the allocated sequence number.
func (c *Client) Send(code Code, data any) (Request, error) {
	req := c.NewRequest(code, data)
	pkt, err := c.Build(req)
	if err != nil {
		return req, err
	}

	c.mu.Lock()
	_, err = c.w.Write(pkt)
	c.mu.Unlock()
	if err != nil {
		return req, fmt.Errorf("command: write %s: %w", code, err)
	}
	c.sent.Add(1)
	c.bytes.Add(int64(len(pkt)))
	c.log.Debug("command sent", "cmd", code, "seq", req.Seq, "bytes", len(pkt))
	return req, nil
}

// Sent returns the number of commands written and their total size.
func (c *Client) Sent() (count, bytes int64) {
	return c.sent.Load(), c.bytes.Load()
}
