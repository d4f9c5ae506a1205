// Package live serves the websocket endpoints: relays stream raw samples into
// a session and viewers watch a session, optionally starting with a backfill.
package live

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/normalizer"
	"f1telemetryhub/pkg/registry"
	"f1telemetryhub/pkg/replay"
	"f1telemetryhub/pkg/webserver"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// relays and viewers are authenticated upstream
var upgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	EnableCompression: true,
	CheckOrigin:       func(r *http.Request) bool { return true },
}

type Publisher interface {
	Ingest(ctx context.Context, in normalizer.Input) (model.TelemetrySample, error)
	PublishEvent(ctx context.Context, sessionID string, event model.SessionEvent) error
}

type SessionChecker interface {
	CheckLive(ctx context.Context, sessionID string) error
}

type Options struct {
	Sessions  SessionChecker
	Publisher Publisher
	Registry  *registry.Registry
	Replay    *replay.Controller
	Watchdog  *Watchdog
	// DefaultLookbackMs applies to viewers that do not ask for one.
	DefaultLookbackMs int64
	Logger            *slog.Logger
}

type Server struct {
	sessions        SessionChecker
	publisher       Publisher
	registry        *registry.Registry
	replay          *replay.Controller
	watchdog        *Watchdog
	defaultLookback int64
	logger          *slog.Logger
	now             func() time.Time
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sessions:        opts.Sessions,
		publisher:       opts.Publisher,
		registry:        opts.Registry,
		replay:          opts.Replay,
		watchdog:        opts.Watchdog,
		defaultLookback: opts.DefaultLookbackMs,
		logger:          logger.With("component", "live"),
		now:             time.Now,
	}
}

func (s *Server) AddHandlers(r *mux.Router) {
	r.HandleFunc("/sessions/{id}/ingest", s.ingestHandler()).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/watch", s.watchHandler()).Methods(http.MethodGet)
}

// preflight rejects unknown or ended sessions with a plain HTTP status before
// the connection is upgraded.
func (s *Server) preflight(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := mux.Vars(r)["id"]
	if err := s.sessions.CheckLive(r.Context(), sessionID); err != nil {
		webserver.WriteError(w, err)
		return "", false
	}
	return sessionID, true
}

func lookbackParam(r *http.Request, def int64) (int64, error) {
	v := r.URL.Query().Get("lookbackMs")
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, &model.MalformedSampleError{Reason: "lookbackMs must be a non-negative integer"}
	}
	return n, nil
}

func writeMessage(c *websocket.Conn, m Message) error {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteJSON(m)
}

func closeWith(c *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// keepAlive pings the peer until stop is closed. WriteControl may run
// concurrently with the connection's other writer.
func keepAlive(c *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func armReadDeadline(c *websocket.Conn) {
	c.SetReadLimit(maxMessageSize)
	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})
}
