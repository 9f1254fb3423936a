// Package api serves the HTTP debug and control surface: session stats,
// stream listing and stop, device state, command submission, and a
// websocket event feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/peerlink/internal/command"
	"github.com/zsiec/peerlink/internal/media"
	"github.com/zsiec/peerlink/internal/session"
)

// Controller is the session surface the API drives.
type Controller interface {
	Stats() session.Stats
	Streams() []media.StreamInfo
	Send(code command.Code, data any) (command.Request, error)
	StopStream(ctx context.Context, t media.StreamType) error
}

// DeviceState exposes what the device last reported.
type DeviceState interface {
	Settings() *command.Settings
	Records() []command.Record
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Addr       string
	Controller Controller
	Device     DeviceState // optional
	Events     *Hub        // optional; enables /api/events
}

// Server is the HTTP API server.
type Server struct {
	log      *slog.Logger
	config   ServerConfig
	upgrader websocket.Upgrader
}

// NewServer creates a Server. It returns an error if required fields are
// missing. If log is nil, slog.Default() is used.
func NewServer(config ServerConfig, log *slog.Logger) (*Server, error) {
	if config.Controller == nil {
		return nil, errors.New("api: Controller is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:    log.With("component", "api"),
		config: config,
		upgrader: websocket.Upgrader{
			// local debug surface; any origin may subscribe
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/streams", s.handleStreams)
	mux.HandleFunc("POST /api/streams/{type}/stop", s.handleStopStream)
	mux.HandleFunc("GET /api/device", s.handleDevice)
	mux.HandleFunc("POST /api/commands", s.handleCommand)
	mux.HandleFunc("GET /api/events", s.handleEvents)
}

// Handler returns the API's http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// Start serves the API on config.Addr and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.Info("API server listening", "addr", s.config.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Controller.Stats())
}

func (s *Server) handleStreams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Controller.Streams())
}

// parseStreamType accepts a stream number (1-5) or name ("main", "sub").
func parseStreamType(v string) (media.StreamType, error) {
	if n, err := strconv.Atoi(v); err == nil {
		t := media.StreamType(n)
		if !t.Valid() {
			return 0, fmt.Errorf("invalid stream type %d", n)
		}
		return t, nil
	}
	for t := media.StreamMain; t <= media.StreamDownload; t++ {
		if t.String() == v {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown stream %q", v)
}

func (s *Server) handleStopStream(w http.ResponseWriter, r *http.Request) {
	t, err := parseStreamType(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.config.Controller.StopStream(ctx, t); err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stopped": t.String()})
}

type deviceResponse struct {
	Settings *command.Settings `json:"settings"`
	Records  []command.Record  `json:"records"`
}

func (s *Server) handleDevice(w http.ResponseWriter, _ *http.Request) {
	if s.config.Device == nil {
		writeError(w, http.StatusNotFound, "device state not available")
		return
	}
	writeJSON(w, http.StatusOK, deviceResponse{
		Settings: s.config.Device.Settings(),
		Records:  s.config.Device.Records(),
	})
}

type commandRequest struct {
	Cmd  json.RawMessage `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

type commandResponse struct {
	Cmd string `json:"cmd"`
	Seq uint32 `json:"seq"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Cmd) == 0 {
		writeError(w, http.StatusBadRequest, "cmd is required")
		return
	}

	// cmd may be a JSON number or a name such as "VIDEO_START"
	var name string
	if err := json.Unmarshal(req.Cmd, &name); err != nil {
		name = string(req.Cmd)
	}
	code, err := command.ParseCode(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var data any
	if len(req.Data) > 0 && string(req.Data) != "null" {
		data = req.Data
	}
	sent, err := s.config.Controller.Send(code, data)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.log.Info("command submitted", "cmd", code, "seq", sent.Seq)
	writeJSON(w, http.StatusAccepted, commandResponse{Cmd: code.String(), Seq: sent.Seq})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.config.Events == nil {
		writeError(w, http.StatusNotFound, "events not enabled")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := s.config.Events.Subscribe(64)
	defer cancel()

	// the read loop only watches for the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.Debug("event subscriber connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("event write failed", "error", err)
				return
			}
		}
	}
}
