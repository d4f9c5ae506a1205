package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"f1telemetryhub/pkg/broadcaster"
	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/registry"
	"f1telemetryhub/pkg/replay"
	"f1telemetryhub/pkg/store"
	"f1telemetryhub/pkg/webserver"
)

type fixture struct {
	store     *store.Manager
	router    http.Handler
	resources string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "api.db"), store.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	reg := registry.New(registry.Config{SaturationTimeout: time.Hour}, st, nil, nil, nil)
	resDir := filepath.Join(t.TempDir(), "resources")

	a := New(Options{
		Store:        st,
		Publisher:    broadcaster.New(st, reg, nil, nil),
		Loader:       replay.New(st, reg, 10, nil),
		ResourcesDir: resDir,
	})
	m := webserver.NewManager(":0", resDir, nil)
	a.AddHandlers(m.Router())
	return &fixture{store: st, router: m.Router(), resources: resDir}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/sessions", `{"trackId":"interlagos"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body)
	}
	s := decodeJSON[model.Session](t, rec)
	if s.ID == "" || s.TrackID != "interlagos" || s.EndedAt != nil {
		t.Fatalf("session = %+v", s)
	}

	rec = f.do(t, http.MethodPost, "/sessions/"+s.ID+"/samples", `{"tsMs":10,"speed":50}`, webserver.IdentityHeader, "bot")
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest = %d %s", rec.Code, rec.Body)
	}
	if got := decodeJSON[model.TelemetrySample](t, rec); got.DriverID != "bot" || got.Speed != 50 {
		t.Fatalf("ingested = %+v", got)
	}

	rec = f.do(t, http.MethodGet, "/sessions", "")
	list := decodeJSON[[]model.SessionSummary](t, rec)
	if len(list) != 1 || list[0].SampleCount != 1 || len(list[0].Participants) != 1 {
		t.Fatalf("list = %+v", list)
	}

	rec = f.do(t, http.MethodPost, "/sessions/"+s.ID+"/end", `{"reason":"chequered flag"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("end = %d %s", rec.Code, rec.Body)
	}
	if ended := decodeJSON[model.Session](t, rec); ended.EndedAt == nil {
		t.Fatalf("ended = %+v", ended)
	}

	rec = f.do(t, http.MethodPost, "/sessions/"+s.ID+"/samples", `{"tsMs":11}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("ingest after end = %d, want 409", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/sessions/"+s.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("load = %d %s", rec.Code, rec.Body)
	}
	loaded := decodeJSON[replay.Loaded](t, rec)
	if len(loaded.Samples.Items) != 1 || loaded.Session.EndedAt == nil {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	s, _ := f.store.CreateSession(t.Context(), "monza")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown session", http.MethodGet, "/sessions/nope/samples", "", http.StatusNotFound},
		{"ingest unknown", http.MethodPost, "/sessions/nope/samples", `{"speed":1}`, http.StatusNotFound},
		{"bad body", http.MethodPost, "/sessions/" + s.ID + "/samples", `[1,2]`, http.StatusBadRequest},
		{"bad cursor", http.MethodGet, "/sessions/" + s.ID + "/samples?cursor=x:y", "", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/sessions/" + s.ID + "/events?limit=-1", "", http.StatusBadRequest},
		{"event without type", http.MethodPost, "/sessions/" + s.ID + "/events", `{"tsMs":1}`, http.StatusBadRequest},
		{"create without track", http.MethodPost, "/sessions", `{}`, http.StatusBadRequest},
		{"end unknown", http.MethodPost, "/sessions/nope/end", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, tt.method, tt.path, tt.body); rec.Code != tt.want {
				t.Fatalf("%s %s = %d %s, want %d", tt.method, tt.path, rec.Code, rec.Body, tt.want)
			}
		})
	}
}

func TestQueryPaging(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	s, _ := f.store.CreateSession(ctx, "jeddah")
	for ts := int64(0); ts < 25; ts++ {
		if err := f.store.AppendSample(ctx, s.ID, model.TelemetrySample{DriverID: "per", TsMs: ts}); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.store.AppendEvent(ctx, s.ID, model.SessionEvent{TsMs: 12, EventType: model.EventLapComplete, DriverID: "per"}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.AppendEvent(ctx, s.ID, model.SessionEvent{TsMs: 13, EventType: model.EventPitIn, DriverID: "per"}); err != nil {
		t.Fatal(err)
	}

	var seen []int64
	path := "/sessions/" + s.ID + "/samples?start=5&end=20&limit=4"
	for {
		page := decodeJSON[store.Page[model.TelemetrySample]](t, f.do(t, http.MethodGet, path, ""))
		for _, x := range page.Items {
			seen = append(seen, x.TsMs)
		}
		if page.NextCursor == "" {
			break
		}
		path = "/sessions/" + s.ID + "/samples?start=5&end=20&limit=4&cursor=" + page.NextCursor
	}
	if len(seen) != 15 || seen[0] != 5 || seen[14] != 19 {
		t.Fatalf("paged samples = %v", seen)
	}

	events := decodeJSON[store.Page[model.SessionEvent]](t, f.do(t, http.MethodGet, "/sessions/"+s.ID+"/events?type=pit-in", ""))
	if len(events.Items) != 1 || events.Items[0].EventType != model.EventPitIn {
		t.Fatalf("events = %+v", events)
	}
}

func TestTraceSVG(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	s, _ := f.store.CreateSession(ctx, "cota")
	for i := 0; i < 50; i++ {
		x := float64(i * 10)
		if err := f.store.AppendSample(ctx, s.ID, model.TelemetrySample{DriverID: "sai", TsMs: int64(i), Position: model.Vec3{X: x, Z: x / 2}}); err != nil {
			t.Fatal(err)
		}
	}

	rec := f.do(t, http.MethodGet, "/sessions/"+s.ID+"/trace.svg", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<svg") {
		t.Fatalf("live trace = %d %.200s", rec.Code, rec.Body)
	}
	if entries, _ := os.ReadDir(f.resources); len(entries) != 0 {
		t.Fatalf("live trace was cached: %v", entries)
	}

	if _, err := f.store.EndSession(ctx, s.ID, "done"); err != nil {
		t.Fatal(err)
	}
	rec = f.do(t, http.MethodGet, "/sessions/"+s.ID+"/trace.svg", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<svg") {
		t.Fatalf("ended trace = %d %.200s", rec.Code, rec.Body)
	}
	if _, err := os.Stat(filepath.Join(f.resources, "trace_"+s.ID+".svg")); err != nil {
		t.Fatalf("ended trace not cached: %v", err)
	}

	rec = f.do(t, http.MethodGet, "/resources/trace_"+s.ID+".svg", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("static resource = %d", rec.Code)
	}
}
