// Package config loads peerlink's TOML configuration and maps it onto the
// component configs.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/zsiec/peerlink/internal/command"
	"github.com/zsiec/peerlink/internal/dispatch"
	"github.com/zsiec/peerlink/internal/extract"
	"github.com/zsiec/peerlink/internal/media"
	"github.com/zsiec/peerlink/internal/reasm"
	"github.com/zsiec/peerlink/internal/session"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the resolved client configuration.
type Config struct {
	Target      string
	ClientID    string
	ClientUser  string
	StartLive   bool
	Fingerprint string // QUIC server certificate pin
	SRTStreamID string
	DialTimeout time.Duration

	ReadTimeout   time.Duration
	RecoveryPause time.Duration
	StopTimeout   time.Duration
	ReadChunk     int
	MaxRecvBuffer int
	MaxPacket     int
	QueueLimit    int
	DrainBatch    int
	DrainInterval time.Duration
	CommandMax    int

	JSONSlots    int
	JSONMax      int
	JSONEviction string
	MediaMax     int
	Checksum     string

	OutputDir    string
	OutputPrefix string
	APIAddr      string
	LogLevel     string
}

// Default returns the configuration used when no file is given.
func Default() Config {
	sc := session.DefaultConfig()
	return Config{
		Target:        "tcp://127.0.0.1:9000",
		ClientID:      command.DefaultClientID,
		ClientUser:    command.DefaultClientUser,
		DialTimeout:   10 * time.Second,
		ReadTimeout:   sc.ReadTimeout,
		RecoveryPause: sc.RecoveryPause,
		StopTimeout:   sc.StopTimeout,
		ReadChunk:     sc.ReadChunk,
		MaxRecvBuffer: sc.Limits.MaxBuffer,
		MaxPacket:     sc.Limits.MaxPacket,
		DrainBatch:    sc.DrainBatch,
		DrainInterval: sc.DrainInterval,
		CommandMax:    command.DefaultMaxPacket,
		JSONSlots:     reasm.DefaultSlots,
		JSONMax:       reasm.DefaultJSONMax,
		JSONEviction:  "oldest",
		MediaMax:      reasm.DefaultMediaMax,
		Checksum:      "ignore",
		OutputDir:     ".",
		OutputPrefix:  media.DefaultPrefix,
		APIAddr:       ":8080",
		LogLevel:      "info",
	}
}

type fileConfig struct {
	Target        string `toml:"target"`
	ClientID      string `toml:"client_id"`
	ClientUser    string `toml:"client_user"`
	StartLive     bool   `toml:"start_live"`
	Fingerprint   string `toml:"quic_fingerprint"`
	SRTStreamID   string `toml:"srt_stream_id"`
	DialTimeout   string `toml:"dial_timeout"`
	ReadTimeout   string `toml:"read_timeout"`
	RecoveryPause string `toml:"recovery_pause"`
	StopTimeout   string `toml:"stop_timeout"`
	ReadChunk     int    `toml:"read_chunk"`
	MaxRecvBuffer int    `toml:"max_recv_buffer"`
	MaxPacket     int    `toml:"max_packet"`
	QueueLimit    int    `toml:"queue_limit"`
	DrainBatch    int    `toml:"drain_batch"`
	DrainInterval string `toml:"drain_interval"`
	CommandMax    int    `toml:"command_max"`
	JSONSlots     int    `toml:"json_slots"`
	JSONMax       int    `toml:"json_max"`
	JSONEviction  string `toml:"json_eviction"`
	MediaMax      int    `toml:"media_max"`
	Checksum      string `toml:"checksum"`
	OutputDir     string `toml:"output_dir"`
	OutputPrefix  string `toml:"output_prefix"`
	APIAddr       string `toml:"api_addr"`
	LogLevel      string `toml:"log_level"`
}

// Load reads path on top of Default, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, meta, err := decode(path)
		if err != nil {
			return Config{}, err
		}
		if err := cfg.apply(meta, raw); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(path string) (fileConfig, toml.MetaData, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fileConfig{}, meta, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		slog.Warn("unknown config keys ignored", "keys", undecoded)
	}
	return raw, meta, nil
}

func (c *Config) apply(meta toml.MetaData, raw fileConfig) error {
	str := func(key, v string, dst *string) {
		if meta.IsDefined(key) {
			if v = strings.TrimSpace(v); v != "" {
				*dst = v
			}
		}
	}
	num := func(key string, v int, dst *int) {
		if meta.IsDefined(key) {
			*dst = v
		}
	}
	dur := func(key, v string, dst *time.Duration) error {
		if !meta.IsDefined(key) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("target", raw.Target, &c.Target)
	str("client_id", raw.ClientID, &c.ClientID)
	str("client_user", raw.ClientUser, &c.ClientUser)
	str("quic_fingerprint", raw.Fingerprint, &c.Fingerprint)
	str("srt_stream_id", raw.SRTStreamID, &c.SRTStreamID)
	str("json_eviction", raw.JSONEviction, &c.JSONEviction)
	str("checksum", raw.Checksum, &c.Checksum)
	str("output_dir", raw.OutputDir, &c.OutputDir)
	str("output_prefix", raw.OutputPrefix, &c.OutputPrefix)
	str("api_addr", raw.APIAddr, &c.APIAddr)
	str("log_level", raw.LogLevel, &c.LogLevel)
	if meta.IsDefined("start_live") {
		c.StartLive = raw.StartLive
	}

	num("read_chunk", raw.ReadChunk, &c.ReadChunk)
	num("max_recv_buffer", raw.MaxRecvBuffer, &c.MaxRecvBuffer)
	num("max_packet", raw.MaxPacket, &c.MaxPacket)
	num("queue_limit", raw.QueueLimit, &c.QueueLimit)
	num("drain_batch", raw.DrainBatch, &c.DrainBatch)
	num("command_max", raw.CommandMax, &c.CommandMax)
	num("json_slots", raw.JSONSlots, &c.JSONSlots)
	num("json_max", raw.JSONMax, &c.JSONMax)
	num("media_max", raw.MediaMax, &c.MediaMax)

	for _, d := range []struct {
		key string
		v   string
		dst *time.Duration
	}{
		{"dial_timeout", raw.DialTimeout, &c.DialTimeout},
		{"read_timeout", raw.ReadTimeout, &c.ReadTimeout},
		{"recovery_pause", raw.RecoveryPause, &c.RecoveryPause},
		{"stop_timeout", raw.StopTimeout, &c.StopTimeout},
		{"drain_interval", raw.DrainInterval, &c.DrainInterval},
	} {
		if err := dur(d.key, d.v, d.dst); err != nil {
			return err
		}
	}
	return nil
}

// applyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	envOr := func(key, fallback string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return fallback
	}
	c.Target = envOr("PEERLINK_TARGET", c.Target)
	c.APIAddr = envOr("PEERLINK_API_ADDR", c.APIAddr)
	c.OutputDir = envOr("PEERLINK_OUTPUT_DIR", c.OutputDir)
	c.Fingerprint = envOr("PEERLINK_QUIC_FINGERPRINT", c.Fingerprint)
	if _, ok := lookup("DEBUG"); ok {
		c.LogLevel = "debug"
	}
}

// Validate rejects non-positive capacities and unknown enum values.
func (c Config) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalid)
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"read_chunk", c.ReadChunk},
		{"max_recv_buffer", c.MaxRecvBuffer},
		{"max_packet", c.MaxPacket},
		{"drain_batch", c.DrainBatch},
		{"command_max", c.CommandMax},
		{"json_slots", c.JSONSlots},
		{"json_max", c.JSONMax},
		{"media_max", c.MediaMax},
	} {
		if f.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, f.name, f.v)
		}
	}
	if c.QueueLimit < 0 {
		return fmt.Errorf("%w: queue_limit must not be negative", ErrInvalid)
	}
	for _, f := range []struct {
		name string
		v    time.Duration
	}{
		{"read_timeout", c.ReadTimeout},
		{"recovery_pause", c.RecoveryPause},
		{"stop_timeout", c.StopTimeout},
		{"drain_interval", c.DrainInterval},
		{"dial_timeout", c.DialTimeout},
	} {
		if f.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, f.name, f.v)
		}
	}
	if c.MaxPacket > c.MaxRecvBuffer {
		return fmt.Errorf("%w: max_packet %d exceeds max_recv_buffer %d", ErrInvalid, c.MaxPacket, c.MaxRecvBuffer)
	}
	if _, err := reasm.ParseEviction(c.JSONEviction); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := dispatch.ParseChecksumPolicy(c.Checksum); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Session returns the session configuration.
func (c Config) Session() session.Config {
	return session.Config{
		ReadTimeout:   c.ReadTimeout,
		RecoveryPause: c.RecoveryPause,
		StopTimeout:   c.StopTimeout,
		ReadChunk:     c.ReadChunk,
		DrainBatch:    c.DrainBatch,
		DrainInterval: c.DrainInterval,
		QueueLimit:    c.QueueLimit,
		Limits:        extract.Limits{MaxBuffer: c.MaxRecvBuffer, MaxPacket: c.MaxPacket},
	}
}

// Dispatch returns the dispatcher configuration. Call after Validate.
func (c Config) Dispatch() dispatch.Config {
	ev, _ := reasm.ParseEviction(c.JSONEviction)
	policy, _ := dispatch.ParseChecksumPolicy(c.Checksum)
	return dispatch.Config{
		Checksum: policy,
		JSON:     reasm.PoolConfig{Slots: c.JSONSlots, MaxSize: c.JSONMax, Eviction: ev},
	}
}

// Client returns the command client configuration.
func (c Config) Client() command.ClientConfig {
	return command.ClientConfig{ID: c.ClientID, User: c.ClientUser, MaxPacket: c.CommandMax}
}

// Video returns the video handler configuration.
func (c Config) Video() media.VideoConfig {
	return media.VideoConfig{MaxFrame: c.MediaMax, Prefix: c.OutputPrefix}
}
