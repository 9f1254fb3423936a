package session

import (
	"time"

	"github.com/zsiec/peerlink/internal/dispatch"
	"github.com/zsiec/peerlink/internal/extract"
	"github.com/zsiec/peerlink/internal/media"
	"github.com/zsiec/peerlink/internal/queue"
)

// Stats is a point-in-time snapshot of session health, served by the debug
// API.
type Stats struct {
	Running         bool               `json:"running"`
	UptimeMs        int64              `json:"uptimeMs"`
	BytesReceived   int64              `json:"bytesReceived"`
	ReadCount       int64              `json:"readCount"`
	Timeouts        int64              `json:"timeouts"`
	FatalErrors     int64              `json:"fatalErrors"`
	TransientErrors int64              `json:"transientErrors"`
	Released        int64              `json:"released"`
	CommandsSent    int64              `json:"commandsSent"`
	Extractor       extract.Stats      `json:"extractor"`
	Queue           queue.Stats        `json:"queue"`
	Dispatch        dispatch.Stats     `json:"dispatch"`
	Streams         []media.StreamInfo `json:"streams"`
}

// Stats returns a snapshot of the session counters. It is safe to call from
// any goroutine.
func (s *Session) Stats() Stats {
	st := Stats{
		Running:         s.running.Load(),
		BytesReceived:   s.bytesReceived.Load(),
		ReadCount:       s.reads.Load(),
		Timeouts:        s.timeouts.Load(),
		FatalErrors:     s.fatalErrors.Load(),
		TransientErrors: s.transient.Load(),
		Released:        s.released.Load(),
		Extractor:       s.ex.Stats(),
		Queue:           s.q.Stats(),
	}
	if started := s.startedAt.Load(); started > 0 && st.Running {
		st.UptimeMs = time.Now().UnixMilli() - started
	}
	if s.disp != nil {
		st.Dispatch = s.disp.Stats()
	}
	if s.client != nil {
		st.CommandsSent, _ = s.client.Sent()
	}
	if s.streams != nil {
		st.Streams = s.streams.List()
	} else {
		st.Streams = []media.StreamInfo{}
	}
	return st
}

// Streams returns the video streams seen so far.
func (s *Session) Streams() []media.StreamInfo {
	if s.streams == nil {
		return []media.StreamInfo{}
	}
	return s.streams.List()
}
