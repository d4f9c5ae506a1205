// Package api exposes session lifecycle, recorded data and single-sample
// ingestion over REST.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/normalizer"
	"f1telemetryhub/pkg/replay"
	"f1telemetryhub/pkg/store"
)

type Store interface {
	CreateSession(ctx context.Context, trackID string) (model.Session, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	ListSessions(ctx context.Context) ([]model.SessionSummary, error)
	QuerySamples(ctx context.Context, q store.SampleQuery) (store.Page[model.TelemetrySample], error)
	QueryEvents(ctx context.Context, q store.EventQuery) (store.Page[model.SessionEvent], error)
	EachSample(ctx context.Context, q store.SampleQuery, fn func(model.TelemetrySample) error) error
}

type Publisher interface {
	Ingest(ctx context.Context, in normalizer.Input) (model.TelemetrySample, error)
	PublishEvent(ctx context.Context, sessionID string, event model.SessionEvent) error
	EndSession(ctx context.Context, sessionID, reason string) (model.Session, error)
}

type Loader interface {
	LoadSession(ctx context.Context, sessionID string) (replay.Loaded, error)
}

type Options struct {
	Store        Store
	Publisher    Publisher
	Loader       Loader
	ResourcesDir string
	Logger       *slog.Logger
}

type API struct {
	store        Store
	publisher    Publisher
	loader       Loader
	resourcesDir string
	logger       *slog.Logger
	now          func() time.Time
}

func New(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:        opts.Store,
		publisher:    opts.Publisher,
		loader:       opts.Loader,
		resourcesDir: opts.ResourcesDir,
		logger:       logger.With("component", "api"),
		now:          time.Now,
	}
}

func (a *API) AddHandlers(r *mux.Router) {
	r.HandleFunc("/sessions", a.createSessionHandler()).Methods(http.MethodPost)
	r.HandleFunc("/sessions", a.listSessionsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", a.loadSessionHandler()).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/end", a.endSessionHandler()).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/samples", a.querySamplesHandler()).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/samples", a.ingestSampleHandler()).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/events", a.queryEventsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/events", a.publishEventHandler()).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/trace.svg", a.traceHandler()).Methods(http.MethodGet)
}

type rangeParams struct {
	start  int64
	end    *int64
	limit  int
	cursor *store.Cursor
}

func parseRange(r *http.Request) (rangeParams, string) {
	q := r.URL.Query()
	var p rangeParams
	if v := q.Get("start"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, "start must be an integer tsMs"
		}
		p.start = n
	}
	if v := q.Get("end"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, "end must be an integer tsMs"
		}
		p.end = &n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, "limit must be a non-negative integer"
		}
		p.limit = n
	}
	if v := q.Get("cursor"); v != "" {
		c, err := store.ParseCursor(v)
		if err != nil {
			return p, err.Error()
		}
		p.cursor = &c
	}
	return p, ""
}
