package command

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the protocol version stamped on every request.
const Version = "1.0"

// Default client identity presented to the device.
const (
	DefaultClientID   = "Android_1c775ac30545f25a"
	DefaultClientUser = "29566628-5071-47e7-b5f5-9cc3849c9ade"
)

// Request is the JSON envelope of an outbound command.
type Request struct {
	Version string `json:"version"`
	Ack     bool   `json:"ack"`
	Seq     uint32 `json:"seq"`
	Cmd     Code   `json:"cmd"`
	Def     string `json:"def"`
	ID      string `json:"id"`
	User    string `json:"user"`
	Data    any    `json:"data,omitempty"`
}

// Response is the generic envelope of a reassembled device message. Only
// the fields every message shares are decoded; Data is left raw for the
// per-command handler.
type Response struct {
	Code int             `json:"code"`
	Ack  bool            `json:"ack"`
	Cmd  Code            `json:"cmd"`
	Seq  uint32          `json:"seq"`
	Def  string          `json:"def"`
	Data json.RawMessage `json:"data"`
}

// OK reports whether the device reported success.
func (r Response) OK() bool { return r.Code == 200 }

// ParseResponse decodes the generic envelope of a JSON message.
func ParseResponse(payload []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(payload, &r); err != nil {
		return Response{}, fmt.Errorf("command: invalid json: %w", err)
	}
	return r, nil
}

// TimeRange is the data of playback and record list requests. Times are
// unix seconds.
type TimeRange struct {
	Start int64 `json:"startTime"`
	End   int64 `json:"endTime"`
}

// RecordWindow is the span queried by RecordRange.
const RecordWindow = 12 * time.Hour

// RecordRange returns the record list window ending at now.
func RecordRange(now time.Time) TimeRange {
	return TimeRange{Start: now.Add(-RecordWindow).Unix(), End: now.Unix()}
}
