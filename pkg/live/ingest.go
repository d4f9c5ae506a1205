package live

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/normalizer"
	"f1telemetryhub/pkg/webserver"
)

func (s *Server) ingestHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := s.preflight(w, r)
		if !ok {
			return
		}
		identity := webserver.IdentityFrom(r.Context())

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("ingest upgrade", "session", sessionID, "err", err.Error())
			return
		}
		defer c.Close()

		if s.watchdog != nil {
			s.watchdog.Attach(sessionID)
			defer s.watchdog.Detach(sessionID)
		}
		s.logger.Info("relay attached", "session", sessionID, "driver", identity)

		armReadDeadline(c)
		stop := make(chan struct{})
		defer close(stop)
		go keepAlive(c, stop)

		ctx := r.Context()
		var n int64
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warn("relay connection lost", "session", sessionID, "err", err.Error())
				} else {
					s.logger.Info("relay detached", "session", sessionID)
				}
				return
			}
			n++
			seq, err := s.handleFrame(ctx, sessionID, identity, data, n)
			reply := Message{MessageType: mtAck, Body: ackBody{Seq: seq}}
			if err != nil {
				reply = Message{MessageType: mtError, Body: errorBody{Seq: seq, Kind: model.ErrorKind(err), Message: err.Error()}}
			}
			if werr := writeMessage(c, reply); werr != nil {
				s.logger.Warn("writing reply to relay", "session", sessionID, "err", werr)
				return
			}
			if model.IsUnknownSession(err) {
				closeWith(c, websocket.CloseNormalClosure, "session ended")
				return
			}
		}
	}
}

// handleFrame returns the sequence number to answer with and the outcome.
func (s *Server) handleFrame(ctx context.Context, sessionID, identity string, data []byte, n int64) (int64, error) {
	var in inbound
	if err := decode(data, &in); err != nil {
		return n, &model.MalformedSampleError{Reason: "invalid frame: " + err.Error()}
	}
	seq := n
	if in.Seq != nil {
		seq = *in.Seq
	}

	switch in.MessageType {
	case mtSample:
		var raw map[string]any
		if err := decode(in.Body, &raw); err != nil {
			return seq, &model.MalformedSampleError{Reason: "sample body must be an object"}
		}
		_, err := s.publisher.Ingest(ctx, normalizer.Input{
			Raw:          raw,
			SessionID:    sessionID,
			DriverID:     identity,
			FallbackTsMs: s.now().UnixMilli(),
		})
		return seq, err
	case mtEvent:
		event, err := decodeEvent(in.Body, identity)
		if err != nil {
			return seq, err
		}
		return seq, s.publisher.PublishEvent(ctx, sessionID, event)
	default:
		return seq, &model.MalformedSampleError{Reason: "unknown message type " + in.MessageType}
	}
}

type eventFrame struct {
	TsMs      int64          `json:"tsMs"`
	EventType string         `json:"eventType"`
	DriverID  string         `json:"driverId"`
	Payload   map[string]any `json:"payload"`
}

func decodeEvent(body []byte, identity string) (model.SessionEvent, error) {
	var f eventFrame
	if err := decode(body, &f); err != nil {
		return model.SessionEvent{}, &model.MalformedSampleError{Reason: errors.Wrap(err, "event body").Error()}
	}
	if f.EventType == "" {
		return model.SessionEvent{}, &model.MalformedSampleError{Reason: "event without eventType"}
	}
	if f.DriverID == "" {
		f.DriverID = identity
	}
	return model.SessionEvent{TsMs: f.TsMs, EventType: f.EventType, DriverID: f.DriverID, Payload: f.Payload}, nil
}
