package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/normalizer"
	"f1telemetryhub/pkg/store"
	"f1telemetryhub/pkg/webserver"
)

const maxBodySize = 1 << 20

type createSessionRequest struct {
	TrackID string `json:"trackId"`
}

type endSessionRequest struct {
	Reason string `json:"reason"`
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return io.EOF
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func (a *API) createSessionHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := decodeBody(r, &req); err != nil || req.TrackID == "" {
			webserver.BadRequest(w, "body must be {\"trackId\": \"...\"}")
			return
		}
		s, err := a.store.CreateSession(r.Context(), req.TrackID)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		webserver.WriteJSON(w, http.StatusCreated, s)
	}
}

func (a *API) listSessionsHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := a.store.ListSessions(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if sessions == nil {
			sessions = []model.SessionSummary{}
		}
		webserver.WriteJSON(w, http.StatusOK, sessions)
	}
}

func (a *API) loadSessionHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		loaded, err := a.loader.LoadSession(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			a.fail(w, r, err)
			return
		}
		webserver.WriteJSON(w, http.StatusOK, loaded)
	}
}

func (a *API) endSessionHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req endSessionRequest
		// the body is optional
		if err := decodeBody(r, &req); err != nil && err != io.EOF {
			webserver.BadRequest(w, "body must be {\"reason\": \"...\"}")
			return
		}
		if req.Reason == "" {
			req.Reason = "ended by request"
		}
		s, err := a.publisher.EndSession(r.Context(), mux.Vars(r)["id"], req.Reason)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		webserver.WriteJSON(w, http.StatusOK, s)
	}
}

func (a *API) querySamplesHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, msg := parseRange(r)
		if msg != "" {
			webserver.BadRequest(w, msg)
			return
		}
		page, err := a.store.QuerySamples(r.Context(), store.SampleQuery{
			SessionID: mux.Vars(r)["id"],
			StartTsMs: p.start,
			EndTsMs:   p.end,
			Limit:     p.limit,
			After:     p.cursor,
		})
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if page.Items == nil {
			page.Items = []model.TelemetrySample{}
		}
		webserver.WriteJSON(w, http.StatusOK, page)
	}
}

func (a *API) queryEventsHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, msg := parseRange(r)
		if msg != "" {
			webserver.BadRequest(w, msg)
			return
		}
		page, err := a.store.QueryEvents(r.Context(), store.EventQuery{
			SessionID: mux.Vars(r)["id"],
			StartTsMs: p.start,
			EndTsMs:   p.end,
			Limit:     p.limit,
			After:     p.cursor,
			EventType: r.URL.Query().Get("type"),
		})
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if page.Items == nil {
			page.Items = []model.SessionEvent{}
		}
		webserver.WriteJSON(w, http.StatusOK, page)
	}
}

func (a *API) ingestSampleHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := decodeBody(r, &raw); err != nil {
			webserver.BadRequest(w, "body must be a JSON object")
			return
		}
		sample, err := a.publisher.Ingest(r.Context(), normalizer.Input{
			Raw:          raw,
			SessionID:    mux.Vars(r)["id"],
			DriverID:     webserver.IdentityFrom(r.Context()),
			FallbackTsMs: a.now().UnixMilli(),
		})
		if err != nil {
			a.fail(w, r, err)
			return
		}
		webserver.WriteJSON(w, http.StatusCreated, sample)
	}
}

func (a *API) publishEventHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var event model.SessionEvent
		if err := decodeBody(r, &event); err != nil || event.EventType == "" {
			webserver.BadRequest(w, "body must be an event with an eventType")
			return
		}
		if event.DriverID == "" {
			event.DriverID = webserver.IdentityFrom(r.Context())
		}
		sessionID := mux.Vars(r)["id"]
		if err := a.publisher.PublishEvent(r.Context(), sessionID, event); err != nil {
			a.fail(w, r, err)
			return
		}
		event.SessionID = sessionID
		webserver.WriteJSON(w, http.StatusCreated, event)
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := webserver.StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "path", r.URL.Path, "err", err.Error())
	}
	webserver.WriteError(w, err)
}
