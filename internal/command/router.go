package command

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// HandlerFunc handles one reassembled device message.
type HandlerFunc func(Response) error

// RouterStats counts routed messages.
type RouterStats struct {
	Messages int64 `json:"messages"`
	Handled  int64 `json:"handled"`
	Invalid  int64 `json:"invalid"`
	Failed   int64 `json:"failed"`
}

// Router routes reassembled JSON messages to handlers by command code.
type Router struct {
	log *slog.Logger

	mu        sync.RWMutex
	handlers  map[Code]HandlerFunc
	observers []func(Code, Response)

	messages atomic.Int64
	handled  atomic.Int64
	invalid  atomic.Int64
	failed   atomic.Int64
}

// NewRouter creates an empty Router. If log is nil, slog.Default() is used.
func NewRouter(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		log:      log.With("component", "router"),
		handlers: make(map[Code]HandlerFunc),
	}
}

// Handle registers fn for code, replacing any previous handler.
func (r *Router) Handle(code Code, fn HandlerFunc) {
	r.mu.Lock()
	r.handlers[code] = fn
	r.mu.Unlock()
}

// Observe registers fn to see every parsed message before it is handled.
func (r *Router) Observe(fn func(Code, Response)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// Dispatch parses payload and calls the handler for code. When the package
// header's code has no handler, the envelope's own cmd and def fields are
// tried. Messages nobody handles are logged by outcome.
func (r *Router) Dispatch(code Code, payload []byte) error {
	r.messages.Add(1)
	resp, err := ParseResponse(payload)
	if err != nil {
		r.invalid.Add(1)
		return err
	}

	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, o := range observers {
		o(code, resp)
	}

	fn := r.lookup(code, resp)
	if fn == nil {
		switch {
		case resp.OK():
			r.log.Info("command succeeded", "cmd", code, "seq", resp.Seq)
		case resp.Ack:
			r.log.Info("command acknowledged", "cmd", code, "seq", resp.Seq)
		default:
			r.log.Debug("unhandled message", "cmd", code, "code", resp.Code, "bytes", len(payload))
		}
		return nil
	}

	if err := fn(resp); err != nil {
		r.failed.Add(1)
		return err
	}
	r.handled.Add(1)
	return nil
}

func (r *Router) lookup(code Code, resp Response) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.handlers[code]; ok {
		return fn
	}
	if fn, ok := r.handlers[resp.Cmd]; ok && resp.Cmd != 0 {
		return fn
	}
	if c, ok := byDef[resp.Def]; ok {
		return r.handlers[c]
	}
	return nil
}

// Stats returns a snapshot of the router's counters.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Messages: r.messages.Load(),
		Handled:  r.handled.Load(),
		Invalid:  r.invalid.Load(),
		Failed:   r.failed.Load(),
	}
}
