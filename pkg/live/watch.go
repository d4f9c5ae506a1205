package live

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/registry"
	"f1telemetryhub/pkg/webserver"
)

func (s *Server) watchHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		lookback, err := lookbackParam(r, s.defaultLookback)
		if err != nil {
			webserver.WriteError(w, err)
			return
		}
		sessionID, ok := s.preflight(w, r)
		if !ok {
			return
		}

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("watch upgrade", "session", sessionID, "err", err.Error())
			return
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// read pump: only control frames are expected, a read error means the
		// viewer went away
		armReadDeadline(c)
		go func() {
			defer cancel()
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()
		go keepAlive(c, ctx.Done())

		if lookback == 0 {
			s.watchLive(ctx, c, sessionID)
			return
		}

		sub := s.registry.NewSubscriber(model.ModeReplay)
		joined := make(chan joinResult, 1)
		go func() {
			var res joinResult
			res.id, res.err = s.replay.BackfillThenPromote(ctx, sessionID, sub, lookback)
			if res.err != nil {
				cancel()
			}
			joined <- res
		}()

		code, text := s.pump(ctx, c, sub)
		cancel()
		res := <-joined
		if res.err != nil && !errors.Is(res.err, context.Canceled) {
			s.logger.Warn("viewer backfill failed", "session", sessionID, "err", res.err)
			code, text = closeFor(res.err)
		}
		if res.id != "" {
			s.registry.Leave(res.id)
		}
		if code != 0 {
			closeWith(c, code, text)
		}
		s.logger.Debug("viewer left", "session", sessionID, "subscriber", res.id)
	}
}

func (s *Server) watchLive(ctx context.Context, c *websocket.Conn, sessionID string) {
	sub := s.registry.NewSubscriber(model.ModeLive)
	id, err := s.registry.Join(ctx, sessionID, sub)
	if err != nil {
		code, text := closeFor(err)
		closeWith(c, code, text)
		return
	}
	defer s.registry.Leave(id)

	if err := writeMessage(c, Message{MessageType: mtLive}); err != nil {
		return
	}
	if code, text := s.pump(ctx, c, sub); code != 0 {
		closeWith(c, code, text)
	}
	s.logger.Debug("viewer left", "session", sessionID, "subscriber", id)
}

type joinResult struct {
	id  string
	err error
}

// pump writes deliveries until the subscriber is closed or ctx is done. It
// returns the close frame to send, code 0 when none is due.
func (s *Server) pump(ctx context.Context, c *websocket.Conn, sub *registry.Subscriber) (int, string) {
	for {
		item, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ""
			}
			return closeFor(err)
		}

		var m Message
		switch {
		case item.Sample != nil:
			m = Message{MessageType: mtSample, Body: item.Sample}
		case item.Event != nil:
			m = Message{MessageType: mtEvent, Body: item.Event}
		default:
			m = Message{MessageType: mtLive}
		}
		if err := writeMessage(c, m); err != nil {
			return 0, ""
		}
	}
}

func closeFor(err error) (int, string) {
	var unknown *model.UnknownSessionError
	switch {
	case model.IsBackpressure(err):
		return websocket.CloseTryAgainLater, "viewer too slow"
	case errors.Is(err, registry.ErrSessionEnded):
		return websocket.CloseNormalClosure, "session ended"
	case errors.As(err, &unknown):
		if unknown.Ended {
			return websocket.CloseNormalClosure, "session ended"
		}
		return websocket.ClosePolicyViolation, "unknown session"
	case errors.Is(err, registry.ErrLeft):
		return websocket.CloseNormalClosure, ""
	default:
		return websocket.CloseInternalServerErr, "internal error"
	}
}
