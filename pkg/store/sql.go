package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"f1telemetryhub/pkg/model"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

func buildCreateTables(driver string) []string {
	seq := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == DriverPostgres {
		seq = "seq BIGSERIAL PRIMARY KEY"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		track_id TEXT NOT NULL,
		started_at_ms BIGINT NOT NULL,
		ended_at_ms BIGINT);`,
		`CREATE TABLE IF NOT EXISTS participants (
		session_id TEXT NOT NULL,
		driver_id TEXT NOT NULL,
		PRIMARY KEY (session_id, driver_id));`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS samples (
		%s,
		session_id TEXT NOT NULL,
		driver_id TEXT NOT NULL,
		ts_ms BIGINT NOT NULL,
		payload TEXT NOT NULL);`, seq),
		`CREATE INDEX IF NOT EXISTS samples_session_ts ON samples (session_id, ts_ms, seq);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS events (
		%s,
		session_id TEXT NOT NULL,
		ts_ms BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		driver_id TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL);`, seq),
		`CREATE INDEX IF NOT EXISTS events_session_ts ON events (session_id, ts_ms, seq);`,
	}
}

type sessionRow struct {
	ID          string `db:"id"`
	TrackID     string `db:"track_id"`
	StartedAtMs int64  `db:"started_at_ms"`
	EndedAtMs   *int64 `db:"ended_at_ms"`
}

func (r sessionRow) toModel() model.Session {
	s := model.Session{
		ID:        r.ID,
		TrackID:   r.TrackID,
		StartedAt: time.UnixMilli(r.StartedAtMs).UTC(),
	}
	if r.EndedAtMs != nil {
		ended := time.UnixMilli(*r.EndedAtMs).UTC()
		s.EndedAt = &ended
	}
	return s
}

type payloadRow struct {
	Seq     int64  `db:"seq"`
	TsMs    int64  `db:"ts_ms"`
	Payload string `db:"payload"`
}

type eventRow struct {
	payloadRow
	EventType string `db:"event_type"`
	DriverID  string `db:"driver_id"`
}

type countRow struct {
	SessionID string `db:"session_id"`
	Count     int64  `db:"n"`
}

type participantRow struct {
	SessionID string `db:"session_id"`
	DriverID  string `db:"driver_id"`
}

func buildInsertSessionCommand(s model.Session) (string, []any) {
	return `INSERT INTO sessions (id, track_id, started_at_ms) VALUES (?, ?, ?)`,
		[]any{s.ID, s.TrackID, s.StartedAt.UnixMilli()}
}

func buildSelectSessionCommand(id string) (string, []any) {
	return `SELECT id, track_id, started_at_ms, ended_at_ms FROM sessions WHERE id = ?`, []any{id}
}

func buildSelectSessionsCommand() string {
	return `SELECT id, track_id, started_at_ms, ended_at_ms FROM sessions ORDER BY started_at_ms DESC, id`
}

func buildSelectParticipantsCommand() string {
	return `SELECT session_id, driver_id FROM participants ORDER BY session_id, driver_id`
}

func buildCountSamplesCommand() string {
	return `SELECT session_id, COUNT(*) AS n FROM samples GROUP BY session_id`
}

func buildEndSessionCommand(id string, endedAt time.Time) (string, []any) {
	return `UPDATE sessions SET ended_at_ms = ? WHERE id = ? AND ended_at_ms IS NULL`,
		[]any{endedAt.UnixMilli(), id}
}

func buildInsertParticipantCommand(sessionID, driverID string) (string, []any) {
	return `INSERT INTO participants (session_id, driver_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		[]any{sessionID, driverID}
}

func buildInsertSampleCommand(s *model.TelemetrySample) (string, []any, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", nil, errors.Wrap(err, "encoding sample")
	}
	return `INSERT INTO samples (session_id, driver_id, ts_ms, payload) VALUES (?, ?, ?, ?)`,
		[]any{s.SessionID, s.DriverID, s.TsMs, string(payload)}, nil
}

func buildInsertEventCommand(e *model.SessionEvent) (string, []any, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return "", nil, errors.Wrap(err, "encoding event payload")
	}
	return `INSERT INTO events (session_id, ts_ms, event_type, driver_id, payload) VALUES (?, ?, ?, ?, ?)`,
		[]any{e.SessionID, e.TsMs, e.EventType, e.DriverID, string(payload)}, nil
}

func buildLatestSampleCommand(sessionID string) (string, []any) {
	return `SELECT MAX(ts_ms) FROM samples WHERE session_id = ?`, []any{sessionID}
}

func buildLatestEventCommand(sessionID string) (string, []any) {
	return `SELECT MAX(ts_ms) FROM events WHERE session_id = ?`, []any{sessionID}
}

// rangeClause renders the shared WHERE body of the sample and event queries.
func rangeClause(sessionID string, start int64, end *int64, after *Cursor) (string, []any) {
	where := []string{"session_id = ?", "ts_ms >= ?"}
	args := []any{sessionID, start}
	if end != nil {
		where = append(where, "ts_ms < ?")
		args = append(args, *end)
	}
	if after != nil {
		where = append(where, "(ts_ms > ? OR (ts_ms = ? AND seq > ?))")
		args = append(args, after.TsMs, after.TsMs, after.Seq)
	}
	return strings.Join(where, " AND "), args
}

// limit is fetched plus one so the caller can tell whether a next page exists.
func buildSelectSamplesCommand(q SampleQuery, limit int) (string, []any) {
	where, args := rangeClause(q.SessionID, q.StartTsMs, q.EndTsMs, q.After)
	args = append(args, limit+1)
	return fmt.Sprintf(`SELECT seq, ts_ms, payload FROM samples WHERE %s ORDER BY ts_ms, seq LIMIT ?`, where), args
}

func buildSelectEventsCommand(q EventQuery, limit int) (string, []any) {
	where, args := rangeClause(q.SessionID, q.StartTsMs, q.EndTsMs, q.After)
	if q.EventType != "" {
		where += " AND event_type = ?"
		args = append(args, q.EventType)
	}
	args = append(args, limit+1)
	return fmt.Sprintf(`SELECT seq, ts_ms, event_type, driver_id, payload FROM events WHERE %s ORDER BY ts_ms, seq LIMIT ?`, where), args
}

func processSampleRows(rows []payloadRow, limit int) (Page[model.TelemetrySample], error) {
	page := Page[model.TelemetrySample]{Items: make([]model.TelemetrySample, 0, min(len(rows), limit))}
	for i, row := range rows {
		if i == limit {
			page.NextCursor = Cursor{TsMs: rows[i-1].TsMs, Seq: rows[i-1].Seq}.String()
			break
		}
		var s model.TelemetrySample
		if err := json.Unmarshal([]byte(row.Payload), &s); err != nil {
			return page, errors.Wrapf(err, "decoding sample %d", row.Seq)
		}
		page.Items = append(page.Items, s)
	}
	return page, nil
}

func processEventRows(sessionID string, rows []eventRow, limit int) (Page[model.SessionEvent], error) {
	page := Page[model.SessionEvent]{Items: make([]model.SessionEvent, 0, min(len(rows), limit))}
	for i, row := range rows {
		if i == limit {
			page.NextCursor = Cursor{TsMs: rows[i-1].TsMs, Seq: rows[i-1].Seq}.String()
			break
		}
		e := model.SessionEvent{
			SessionID: sessionID,
			TsMs:      row.TsMs,
			EventType: row.EventType,
			DriverID:  row.DriverID,
		}
		if err := json.Unmarshal([]byte(row.Payload), &e.Payload); err != nil {
			return page, errors.Wrapf(err, "decoding event %d", row.Seq)
		}
		page.Items = append(page.Items, e)
	}
	return page, nil
}

func processSessionSummaries(sessions []sessionRow, participants []participantRow, counts []countRow) []model.SessionSummary {
	byID := map[string][]string{}
	for _, p := range participants {
		byID[p.SessionID] = append(byID[p.SessionID], p.DriverID)
	}
	countByID := map[string]int64{}
	for _, c := range counts {
		countByID[c.SessionID] = c.Count
	}
	summaries := make([]model.SessionSummary, 0, len(sessions))
	for _, row := range sessions {
		participants := byID[row.ID]
		if participants == nil {
			participants = []string{}
		}
		summaries = append(summaries, model.SessionSummary{
			Session:      row.toModel(),
			Participants: participants,
			SampleCount:  countByID[row.ID],
		})
	}
	return summaries
}
