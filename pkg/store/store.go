// Package store is the durable, append only session store. Each live session
// owns a writer goroutine so appends to one session are serialized without
// contending with any other session.
package store

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/pubsub"
)

// TopicLifecycle carries model.SessionLifecycle notices.
const TopicLifecycle = "session-lifecycle"

type Options struct {
	WriteQueue int
	BatchSize  int
	PageSize   int
	MaxLimit   int
	Now        func() time.Time
	Lifecycle  *pubsub.PubSub[model.SessionLifecycle]
	Logger     *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.WriteQueue <= 0 {
		o.WriteQueue = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 256
	}
	if o.PageSize <= 0 {
		o.PageSize = 500
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = 5000
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type Manager struct {
	db     *sqlx.DB
	driver string
	opts   Options
	logger *slog.Logger

	// session id -> *writer, only for live sessions touched by this process
	writers sync.Map
	// serializes writer creation so a session never gets two writers
	createMu sync.Mutex
	closed   bool
}

// Open connects to driver (sqlite3 or pgx) and creates the schema if needed.
func Open(driver, dsn string, opts Options) (*Manager, error) {
	opts.applyDefaults()
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}
	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "pinging database")
	}
	for _, stmt := range buildCreateTables(driver) {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "creating schema")
		}
	}

	return &Manager{
		db:     db,
		driver: driver,
		opts:   opts,
		logger: opts.Logger.With("component", "store"),
	}, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "./telemetry.db"
	}
	if strings.Contains(dsn, "?") || strings.HasPrefix(dsn, ":memory:") {
		return dsn
	}
	return dsn + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// Close drains every session writer and closes the database.
func (m *Manager) Close() error {
	m.createMu.Lock()
	m.closed = true
	m.createMu.Unlock()

	m.writers.Range(func(key, value any) bool {
		value.(*writer).stop(false)
		m.writers.Delete(key)
		return true
	})
	return m.db.Close()
}

func (m *Manager) CreateSession(ctx context.Context, trackID string) (model.Session, error) {
	s := model.Session{
		ID:        uuid.NewString(),
		TrackID:   trackID,
		StartedAt: m.opts.Now().UTC().Truncate(time.Millisecond),
	}
	query, args := buildInsertSessionCommand(s)
	if _, err := m.db.ExecContext(ctx, m.db.Rebind(query), args...); err != nil {
		return model.Session{}, errors.Wrap(err, "inserting session")
	}
	if _, err := m.writerFor(ctx, s.ID); err != nil {
		return model.Session{}, err
	}
	m.logger.Info("session created", "session", s.ID, "track", trackID)
	m.notify(model.SessionLifecycle{Kind: model.LifecycleStarted, Session: s})
	return s, nil
}

func (m *Manager) GetSession(ctx context.Context, id string) (model.Session, error) {
	var row sessionRow
	query, args := buildSelectSessionCommand(id)
	err := m.db.GetContext(ctx, &row, m.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, &model.UnknownSessionError{SessionID: id}
	}
	if err != nil {
		return model.Session{}, errors.Wrapf(err, "loading session %q", id)
	}
	return row.toModel(), nil
}

func (m *Manager) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	var sessions []sessionRow
	if err := m.db.SelectContext(ctx, &sessions, buildSelectSessionsCommand()); err != nil {
		return nil, errors.Wrap(err, "listing sessions")
	}
	var participants []participantRow
	if err := m.db.SelectContext(ctx, &participants, buildSelectParticipantsCommand()); err != nil {
		return nil, errors.Wrap(err, "listing participants")
	}
	var counts []countRow
	if err := m.db.SelectContext(ctx, &counts, buildCountSamplesCommand()); err != nil {
		return nil, errors.Wrap(err, "counting samples")
	}
	return processSessionSummaries(sessions, participants, counts), nil
}

// writerFor returns the writer of a live session, starting it on first use.
func (m *Manager) writerFor(ctx context.Context, id string) (*writer, error) {
	if w, ok := m.writers.Load(id); ok {
		return w.(*writer), nil
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()
	if m.closed {
		return nil, &model.PersistenceError{SessionID: id, Err: errStoreClosed}
	}
	if w, ok := m.writers.Load(id); ok {
		return w.(*writer), nil
	}
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Live() {
		return nil, &model.UnknownSessionError{SessionID: id, Ended: true}
	}
	w := newWriter(m.db, id, m.opts.WriteQueue, m.opts.BatchSize, m.logger)
	m.writers.Store(id, w)
	return w, nil
}

// CheckLive returns nil when id names a session that has not ended.
func (m *Manager) CheckLive(ctx context.Context, id string) error {
	w, err := m.writerFor(ctx, id)
	if err != nil {
		return err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.ended {
		return &model.UnknownSessionError{SessionID: id, Ended: true}
	}
	return nil
}

// EnqueueSample hands s to its session writer and returns as soon as it is
// queued. The returned channel yields the outcome of the durable write. An
// unknown or ended session is reported here, before anything is queued.
func (m *Manager) EnqueueSample(ctx context.Context, s model.TelemetrySample) (<-chan error, error) {
	w, err := m.writerFor(ctx, s.SessionID)
	if err != nil {
		return nil, err
	}
	return w.enqueue(ctx, request{sample: &s})
}

func (m *Manager) EnqueueEvent(ctx context.Context, e model.SessionEvent) (<-chan error, error) {
	w, err := m.writerFor(ctx, e.SessionID)
	if err != nil {
		return nil, err
	}
	return w.enqueue(ctx, request{event: &e})
}

func (m *Manager) AppendSample(ctx context.Context, sessionID string, s model.TelemetrySample) error {
	s.SessionID = sessionID
	done, err := m.EnqueueSample(ctx, s)
	if err != nil {
		return err
	}
	return wait(ctx, done)
}

func (m *Manager) AppendEvent(ctx context.Context, sessionID string, e model.SessionEvent) error {
	e.SessionID = sessionID
	done, err := m.EnqueueEvent(ctx, e)
	if err != nil {
		return err
	}
	return wait(ctx, done)
}

// Sync returns once every append enqueued for the session before the call
// has been committed. On an ended session everything is already durable.
func (m *Manager) Sync(ctx context.Context, sessionID string) error {
	w, err := m.writerFor(ctx, sessionID)
	if model.IsUnknownSession(err) {
		if _, getErr := m.GetSession(ctx, sessionID); getErr != nil {
			return getErr
		}
		return nil
	}
	if err != nil {
		return err
	}
	done, err := w.enqueue(ctx, request{})
	if model.IsUnknownSession(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return wait(ctx, done)
}

func wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndSession is idempotent. Appends queued before it are persisted first.
func (m *Manager) EndSession(ctx context.Context, id, reason string) (model.Session, error) {
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if !s.Live() {
		return s, nil
	}

	if w, err := m.writerFor(ctx, id); err == nil {
		w.stop(true)
	} else if !model.IsUnknownSession(err) {
		return model.Session{}, err
	}

	// the row is updated under createMu so writerFor never revives the session
	m.createMu.Lock()
	query, args := buildEndSessionCommand(id, m.opts.Now().UTC())
	res, err := m.db.ExecContext(ctx, m.db.Rebind(query), args...)
	if err == nil {
		m.writers.Delete(id)
	}
	m.createMu.Unlock()
	if err != nil {
		return model.Session{}, errors.Wrapf(err, "ending session %q", id)
	}

	s, err = m.GetSession(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		m.logger.Info("session ended", "session", id, "reason", reason)
		m.notify(model.SessionLifecycle{Kind: model.LifecycleEnded, Session: s, Reason: reason})
	}
	return s, nil
}

func (m *Manager) notify(n model.SessionLifecycle) {
	if m.opts.Lifecycle != nil {
		m.opts.Lifecycle.Publish(TopicLifecycle, n)
	}
}

// LatestTsMs reports the highest persisted sample timestamp of a session.
func (m *Manager) LatestTsMs(ctx context.Context, sessionID string) (int64, bool, error) {
	var latest sql.NullInt64
	query, args := buildLatestSampleCommand(sessionID)
	if err := m.db.GetContext(ctx, &latest, m.db.Rebind(query), args...); err != nil {
		return 0, false, errors.Wrapf(err, "latest sample of %q", sessionID)
	}
	return latest.Int64, latest.Valid, nil
}

// LatestEventTsMs reports the highest persisted event timestamp of a session.
func (m *Manager) LatestEventTsMs(ctx context.Context, sessionID string) (int64, bool, error) {
	var latest sql.NullInt64
	query, args := buildLatestEventCommand(sessionID)
	if err := m.db.GetContext(ctx, &latest, m.db.Rebind(query), args...); err != nil {
		return 0, false, errors.Wrapf(err, "latest event of %q", sessionID)
	}
	return latest.Int64, latest.Valid, nil
}

func (m *Manager) limit(requested int) int {
	if requested <= 0 {
		return m.opts.PageSize
	}
	return min(requested, m.opts.MaxLimit)
}

// QuerySamples returns samples with StartTsMs <= tsMs < EndTsMs ordered by
// tsMs, at most one page long.
func (m *Manager) QuerySamples(ctx context.Context, q SampleQuery) (Page[model.TelemetrySample], error) {
	if _, err := m.GetSession(ctx, q.SessionID); err != nil {
		return Page[model.TelemetrySample]{}, err
	}
	limit := m.limit(q.Limit)
	query, args := buildSelectSamplesCommand(q, limit)
	var rows []payloadRow
	if err := m.db.SelectContext(ctx, &rows, m.db.Rebind(query), args...); err != nil {
		return Page[model.TelemetrySample]{}, errors.Wrapf(err, "querying samples of %q", q.SessionID)
	}
	return processSampleRows(rows, limit)
}

func (m *Manager) QueryEvents(ctx context.Context, q EventQuery) (Page[model.SessionEvent], error) {
	if _, err := m.GetSession(ctx, q.SessionID); err != nil {
		return Page[model.SessionEvent]{}, err
	}
	limit := m.limit(q.Limit)
	query, args := buildSelectEventsCommand(q, limit)
	var rows []eventRow
	if err := m.db.SelectContext(ctx, &rows, m.db.Rebind(query), args...); err != nil {
		return Page[model.SessionEvent]{}, errors.Wrapf(err, "querying events of %q", q.SessionID)
	}
	return processEventRows(q.SessionID, rows, limit)
}
