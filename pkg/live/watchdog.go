package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"f1telemetryhub/pkg/model"
)

// ReasonRelayTimeout is recorded on sessions ended by the watchdog.
const ReasonRelayTimeout = "relay disconnect timeout"

// EndFunc ends a session, normally Broadcaster.EndSession.
type EndFunc func(ctx context.Context, sessionID, reason string) (model.Session, error)

type relayState struct {
	count int
	gen   uint64
	timer *time.Timer
}

// Watchdog ends a session when no relay has been attached to it for longer
// than the timeout.
type Watchdog struct {
	timeout time.Duration
	end     EndFunc
	logger  *slog.Logger

	mu      sync.Mutex
	relays  map[string]*relayState
	stopped bool
}

// NewWatchdog returns a watchdog; a timeout <= 0 disables it.
func NewWatchdog(timeout time.Duration, end EndFunc, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		timeout: timeout,
		end:     end,
		logger:  logger.With("component", "watchdog"),
		relays:  map[string]*relayState{},
	}
}

func (w *Watchdog) Attach(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.relays[sessionID]
	if !ok {
		st = &relayState{}
		w.relays[sessionID] = st
	}
	st.count++
	st.gen++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (w *Watchdog) Detach(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.relays[sessionID]
	if !ok || st.count == 0 {
		return
	}
	st.count--
	if st.count > 0 || w.stopped || w.timeout <= 0 {
		if st.count == 0 {
			delete(w.relays, sessionID)
		}
		return
	}
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(w.timeout, func() { w.fire(sessionID, gen) })
}

func (w *Watchdog) fire(sessionID string, gen uint64) {
	w.mu.Lock()
	st, ok := w.relays[sessionID]
	if !ok || st.gen != gen || st.count > 0 || w.stopped {
		w.mu.Unlock()
		return
	}
	delete(w.relays, sessionID)
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := w.end(ctx, sessionID, ReasonRelayTimeout); err != nil {
		if model.IsUnknownSession(err) {
			return
		}
		w.logger.Error("ending abandoned session", "session", sessionID, "err", err.Error())
		return
	}
	w.logger.Info("session ended, no relay attached", "session", sessionID, "timeout", w.timeout)
}

// Pending reports whether a disconnect timer is running for the session.
func (w *Watchdog) Pending(sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.relays[sessionID]
	return ok && st.timer != nil
}

// Stop cancels every pending timer. Sessions are left as they are.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for id, st := range w.relays {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(w.relays, id)
	}
}
