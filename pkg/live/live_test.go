package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"f1telemetryhub/pkg/broadcaster"
	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/registry"
	"f1telemetryhub/pkg/replay"
	"f1telemetryhub/pkg/store"
	"f1telemetryhub/pkg/webserver"
)

type fixture struct {
	store       *store.Manager
	registry    *registry.Registry
	broadcaster *broadcaster.Broadcaster
	server      *httptest.Server
}

func newFixture(t *testing.T, relayTimeout time.Duration) *fixture {
	t.Helper()
	st, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "live.db"), store.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	reg := registry.New(registry.Config{SaturationTimeout: time.Hour}, st, nil, nil, nil)
	b := broadcaster.New(st, reg, nil, nil)
	wd := NewWatchdog(relayTimeout, b.EndSession, nil)
	t.Cleanup(wd.Stop)

	ls := NewServer(Options{
		Sessions:  st,
		Publisher: b,
		Registry:  reg,
		Replay:    replay.New(st, reg, 50, nil),
		Watchdog:  wd,
	})
	m := webserver.NewManager(":0", "", nil)
	ls.AddHandlers(m.Router())
	srv := httptest.NewServer(m.Router())
	t.Cleanup(srv.Close)
	return &fixture{store: st, registry: reg, broadcaster: b, server: srv}
}

func (f *fixture) dial(t *testing.T, path string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	c, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { _ = c.Close() })
	}
	return c, resp, err
}

type frame struct {
	MessageType string          `json:"type"`
	Body        json.RawMessage `json:"body"`
}

func readFrame(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	if err := c.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return f
}

func TestIngestAndWatch(t *testing.T) {
	f := newFixture(t, time.Minute)
	s, err := f.store.CreateSession(context.Background(), "spa")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	viewer, _, err := f.dial(t, "/sessions/"+s.ID+"/watch", nil)
	if err != nil {
		t.Fatalf("dial watch: %v", err)
	}
	if fr := readFrame(t, viewer); fr.MessageType != mtLive {
		t.Fatalf("first viewer frame = %q, want live", fr.MessageType)
	}

	header := http.Header{}
	header.Set(webserver.IdentityHeader, "verstappen")
	relay, _, err := f.dial(t, "/sessions/"+s.ID+"/ingest", header)
	if err != nil {
		t.Fatalf("dial ingest: %v", err)
	}

	if err := relay.WriteMessage(websocket.TextMessage, []byte(`{"type":"sample","seq":7,"body":{"tsMs":1200,"Speed":80.5,"Gear":5}}`)); err != nil {
		t.Fatal(err)
	}
	ack := readFrame(t, relay)
	if ack.MessageType != mtAck || string(ack.Body) != `{"seq":7}` {
		t.Fatalf("reply = %s %s", ack.MessageType, ack.Body)
	}

	fr := readFrame(t, viewer)
	if fr.MessageType != mtSample {
		t.Fatalf("viewer frame = %q", fr.MessageType)
	}
	var got model.TelemetrySample
	if err := json.Unmarshal(fr.Body, &got); err != nil {
		t.Fatal(err)
	}
	if got.TsMs != 1200 || got.Speed != 80.5 || got.Gear != 5 || got.DriverID != "verstappen" {
		t.Fatalf("sample = %+v", got)
	}

	if err := relay.WriteMessage(websocket.TextMessage, []byte(`{"type":"event","body":{"tsMs":1300,"eventType":"lap-complete","payload":{"lap":1}}}`)); err != nil {
		t.Fatal(err)
	}
	if ack := readFrame(t, relay); ack.MessageType != mtAck || string(ack.Body) != `{"seq":2}` {
		t.Fatalf("event reply = %s %s", ack.MessageType, ack.Body)
	}
	fr = readFrame(t, viewer)
	var ev model.SessionEvent
	_ = json.Unmarshal(fr.Body, &ev)
	if fr.MessageType != mtEvent || ev.EventType != model.EventLapComplete || ev.DriverID != "verstappen" {
		t.Fatalf("viewer event = %s %+v", fr.MessageType, ev)
	}
}

func TestIngestRejectsBadFrames(t *testing.T) {
	f := newFixture(t, time.Minute)
	s, _ := f.store.CreateSession(context.Background(), "imola")
	relay, _, err := f.dial(t, "/sessions/"+s.ID+"/ingest", nil)
	if err != nil {
		t.Fatalf("dial ingest: %v", err)
	}

	for _, msg := range []string{`not json`, `{"type":"telepathy","body":{}}`, `{"type":"event","body":{"tsMs":1}}`} {
		if err := relay.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatal(err)
		}
		fr := readFrame(t, relay)
		var body errorBody
		_ = json.Unmarshal(fr.Body, &body)
		if fr.MessageType != mtError || body.Kind != "malformed" {
			t.Errorf("%s: reply = %s %s", msg, fr.MessageType, fr.Body)
		}
	}

	page, _ := f.store.QuerySamples(context.Background(), store.SampleQuery{SessionID: s.ID})
	if len(page.Items) != 0 {
		t.Fatalf("rejected frames persisted %d samples", len(page.Items))
	}
}

func TestDialUnknownAndEndedSession(t *testing.T) {
	f := newFixture(t, time.Minute)
	_, resp, err := f.dial(t, "/sessions/nope/ingest", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session: resp=%v err=%v", resp, err)
	}

	s, _ := f.store.CreateSession(context.Background(), "suzuka")
	if _, err := f.store.EndSession(context.Background(), s.ID, "finished"); err != nil {
		t.Fatal(err)
	}
	_, resp, err = f.dial(t, "/sessions/"+s.ID+"/watch", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("ended session: resp=%v err=%v", resp, err)
	}

	_, resp, err = f.dial(t, "/sessions/"+s.ID+"/watch?lookbackMs=-4", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad lookback: resp=%v err=%v", resp, err)
	}
}

func TestWatchWithLookback(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	s, _ := f.store.CreateSession(ctx, "silverstone")
	for ts := int64(0); ts < 20; ts++ {
		if err := f.broadcaster.Publish(ctx, s.ID, model.TelemetrySample{DriverID: "nor", TsMs: ts * 100}); err != nil {
			t.Fatal(err)
		}
	}

	viewer, _, err := f.dial(t, "/sessions/"+s.ID+"/watch?lookbackMs=500", nil)
	if err != nil {
		t.Fatalf("dial watch: %v", err)
	}
	var ts []int64
	for {
		fr := readFrame(t, viewer)
		if fr.MessageType == mtLive {
			break
		}
		var sample model.TelemetrySample
		_ = json.Unmarshal(fr.Body, &sample)
		ts = append(ts, sample.TsMs)
	}
	want := []int64{1400, 1500, 1600, 1700, 1800, 1900}
	if len(ts) != len(want) {
		t.Fatalf("backfill = %v, want %v", ts, want)
	}
	for i := range want {
		if ts[i] != want[i] {
			t.Fatalf("backfill = %v, want %v", ts, want)
		}
	}

	if err := f.broadcaster.Publish(ctx, s.ID, model.TelemetrySample{DriverID: "nor", TsMs: 2000}); err != nil {
		t.Fatal(err)
	}
	var sample model.TelemetrySample
	fr := readFrame(t, viewer)
	_ = json.Unmarshal(fr.Body, &sample)
	if fr.MessageType != mtSample || sample.TsMs != 2000 {
		t.Fatalf("live frame = %s %+v", fr.MessageType, sample)
	}
}

func TestEndSessionClosesViewers(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	s, _ := f.store.CreateSession(ctx, "monaco")
	viewer, _, err := f.dial(t, "/sessions/"+s.ID+"/watch", nil)
	if err != nil {
		t.Fatal(err)
	}
	readFrame(t, viewer)

	if _, err := f.broadcaster.EndSession(ctx, s.ID, "chequered flag"); err != nil {
		t.Fatal(err)
	}
	_ = viewer.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = viewer.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("read after end = %v, want normal close", err)
	}
}

func TestRelayDisconnectEndsSession(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	ctx := context.Background()
	s, _ := f.store.CreateSession(ctx, "zandvoort")
	relay, _, err := f.dial(t, "/sessions/"+s.ID+"/ingest", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = relay.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := f.store.GetSession(ctx, s.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Live() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session still live after relay timeout")
}

type endRecorder struct {
	mu    sync.Mutex
	ended []string
}

func (e *endRecorder) end(_ context.Context, id, reason string) (model.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = append(e.ended, id+":"+reason)
	return model.Session{ID: id}, nil
}

func (e *endRecorder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ended)
}

func TestWatchdogReattachCancelsTimer(t *testing.T) {
	rec := &endRecorder{}
	wd := NewWatchdog(30*time.Millisecond, rec.end, nil)
	defer wd.Stop()

	wd.Attach("S")
	wd.Attach("S")
	wd.Detach("S")
	if wd.Pending("S") {
		t.Fatal("timer started while a relay is still attached")
	}
	wd.Detach("S")
	if !wd.Pending("S") {
		t.Fatal("timer not started after last relay left")
	}
	wd.Attach("S")
	time.Sleep(100 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("session ended despite reattach: %v", rec.ended)
	}

	wd.Detach("S")
	time.Sleep(150 * time.Millisecond)
	if rec.count() != 1 || rec.ended[0] != "S:"+ReasonRelayTimeout {
		t.Fatalf("ended = %v", rec.ended)
	}
}
