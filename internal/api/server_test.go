package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/peerlink/internal/command"
	"github.com/zsiec/peerlink/internal/media"
	"github.com/zsiec/peerlink/internal/session"
)

type fakeController struct {
	mu      sync.Mutex
	sent    []command.Code
	data    []any
	stopped []media.StreamType
	stopErr error
	sendErr error
}

func (f *fakeController) Stats() session.Stats {
	return session.Stats{Running: true, BytesReceived: 1234}
}

func (f *fakeController) Streams() []media.StreamInfo {
	return []media.StreamInfo{{Type: int8(media.StreamMain), Name: "main", Codec: "h264"}}
}

func (f *fakeController) Send(code command.Code, data any) (command.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return command.Request{}, f.sendErr
	}
	f.sent = append(f.sent, code)
	f.data = append(f.data, data)
	return command.Request{Cmd: code, Seq: uint32(len(f.sent) - 1)}, nil
}

func (f *fakeController) StopStream(_ context.Context, t media.StreamType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, t)
	return nil
}

type fakeDevice struct{}

func (fakeDevice) Settings() *command.Settings { return &command.Settings{Name: "porch"} }
func (fakeDevice) Records() []command.Record   { return []command.Record{{Start: 1, End: 2}} }

func newTestServer(t *testing.T, ctrl *fakeController) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{Controller: ctrl, Device: fakeDevice{}, Events: NewHub()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return srv
}

func TestNewServerRequiresController(t *testing.T) {
	t.Parallel()
	if _, err := NewServer(ServerConfig{}, nil); err == nil {
		t.Fatal("expected error without controller")
	}
}

func TestHandleStats(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeController{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var st session.Stats
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.BytesReceived != 1234 || !st.Running {
		t.Fatalf("stats: got %+v", st)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("cors: got %q, want *", got)
	}
}

func TestHandleStreamsAndDevice(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, &fakeController{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/streams", nil))
	var streams []media.StreamInfo
	if err := json.NewDecoder(rec.Body).Decode(&streams); err != nil {
		t.Fatal(err)
	}
	if len(streams) != 1 || streams[0].Type != int8(media.StreamMain) {
		t.Fatalf("streams: got %+v", streams)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/device", nil))
	var dev deviceResponse
	if err := json.NewDecoder(rec.Body).Decode(&dev); err != nil {
		t.Fatal(err)
	}
	if dev.Settings == nil || dev.Settings.Name != "porch" || len(dev.Records) != 1 {
		t.Fatalf("device: got %+v", dev)
	}
}

func TestHandleCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantCmd  command.Code
	}{
		{"by name", `{"cmd":"VIDEO_START"}`, http.StatusAccepted, command.VideoStart},
		{"by number", `{"cmd":514}`, http.StatusAccepted, command.PlaybackStop},
		{"with data", `{"cmd":"0x201","data":{"startTime":1,"endTime":2}}`, http.StatusAccepted, command.PlaybackStart},
		{"unknown", `{"cmd":"LAUNCH"}`, http.StatusBadRequest, 0},
		{"missing", `{}`, http.StatusBadRequest, 0},
		{"bad json", `{`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := &fakeController{}
			h := newTestServer(t, ctrl).Handler()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/commands", strings.NewReader(tt.body)))

			if rec.Code != tt.wantCode {
				t.Fatalf("status: got %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body)
			}
			if tt.wantCode != http.StatusAccepted {
				var e map[string]string
				if err := json.NewDecoder(rec.Body).Decode(&e); err != nil || e["error"] == "" {
					t.Fatalf("error body: got %v (%v)", e, err)
				}
				return
			}
			if len(ctrl.sent) != 1 || ctrl.sent[0] != tt.wantCmd {
				t.Fatalf("sent: got %v, want [%v]", ctrl.sent, tt.wantCmd)
			}
		})
	}
}

func TestHandleCommandForwardsData(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	h := newTestServer(t, ctrl).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/commands",
		strings.NewReader(`{"cmd":"TIMEZONE_SET","data":{"tz":"UTC"}}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d", rec.Code)
	}
	raw, err := json.Marshal(ctrl.data[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"tz":"UTC"}` {
		t.Fatalf("data: got %s", raw)
	}
}

func TestHandleCommandSendFailure(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, &fakeController{sendErr: errors.New("broken pipe")}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/commands", strings.NewReader(`{"cmd":"HEARTBEAT"}`)))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want 502", rec.Code)
	}
}

func TestHandleStopStream(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path     string
		stopErr  error
		wantCode int
		want     media.StreamType
	}{
		{"/api/streams/1/stop", nil, http.StatusOK, media.StreamMain},
		{"/api/streams/sub/stop", nil, http.StatusOK, media.StreamSub},
		{"/api/streams/9/stop", nil, http.StatusBadRequest, 0},
		{"/api/streams/bogus/stop", nil, http.StatusBadRequest, 0},
		{"/api/streams/1/stop", session.ErrNotRunning, http.StatusServiceUnavailable, 0},
	}
	for _, tt := range tests {
		ctrl := &fakeController{stopErr: tt.stopErr}
		h := newTestServer(t, ctrl).Handler()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))
		if rec.Code != tt.wantCode {
			t.Fatalf("%s: got %d, want %d", tt.path, rec.Code, tt.wantCode)
		}
		if tt.wantCode == http.StatusOK && (len(ctrl.stopped) != 1 || ctrl.stopped[0] != tt.want) {
			t.Fatalf("%s: stopped %v, want [%v]", tt.path, ctrl.stopped, tt.want)
		}
	}
}

func TestHandleEvents(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeController{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hub := srv.config.Events
	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish("image", map[string]any{"name": "snapshot_ch1_5555.jpg"})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "image" {
		t.Fatalf("type: got %q, want image", ev.Type)
	}
	if m, ok := ev.Data.(map[string]any); !ok || m["name"] != "snapshot_ch1_5555.jpg" {
		t.Fatalf("data: got %v", ev.Data)
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	t.Parallel()
	h := NewHub()
	ch, cancel := h.Subscribe(1)
	h.Publish("a", nil)
	h.Publish("b", nil)
	if got := (<-ch).Type; got != "a" {
		t.Fatalf("got %q, want a", got)
	}
	if h.dropped.Load() != 1 {
		t.Fatalf("dropped: got %d, want 1", h.dropped.Load())
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after cancel")
	}
	if h.Subscribers() != 0 {
		t.Fatal("subscriber still registered")
	}
}
