package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"f1telemetryhub/pkg/model"
)

var errStoreClosed = errors.New("session store is closed")

// request is one unit of work for a session writer. A request carrying
// neither a sample nor an event is a barrier.
type request struct {
	sample *model.TelemetrySample
	event  *model.SessionEvent
	done   chan error
}

// writer is the single appender of one session. Everything enqueued is
// committed in enqueue order, batched into one transaction per drain.
type writer struct {
	sessionID string
	db        *sqlx.DB
	batchSize int
	logger    *slog.Logger

	reqs    chan request
	stopped chan struct{}

	mu     sync.RWMutex
	closed bool
	ended  bool

	drivers map[string]bool
}

func newWriter(db *sqlx.DB, sessionID string, queueSize, batchSize int, logger *slog.Logger) *writer {
	w := &writer{
		sessionID: sessionID,
		db:        db,
		batchSize: batchSize,
		logger:    logger.With("session", sessionID),
		reqs:      make(chan request, queueSize),
		stopped:   make(chan struct{}),
		drivers:   map[string]bool{},
	}
	go w.run()
	return w
}

func (w *writer) enqueue(ctx context.Context, r request) (<-chan error, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.ended {
		return nil, &model.UnknownSessionError{SessionID: w.sessionID, Ended: true}
	}
	if w.closed {
		return nil, &model.PersistenceError{SessionID: w.sessionID, Err: errStoreClosed}
	}
	r.done = make(chan error, 1)
	select {
	case w.reqs <- r:
		return r.done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stop refuses further work and waits until everything already queued is
// committed. ended marks the session as finished rather than shut down.
func (w *writer) stop(ended bool) {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.ended = ended
		close(w.reqs)
	}
	w.mu.Unlock()
	<-w.stopped
}

func (w *writer) run() {
	defer close(w.stopped)
	for {
		r, ok := <-w.reqs
		if !ok {
			return
		}
		batch := []request{r}
	fill:
		for len(batch) < w.batchSize {
			select {
			case r, ok := <-w.reqs:
				if !ok {
					break fill
				}
				batch = append(batch, r)
			default:
				break fill
			}
		}
		w.commit(batch)
	}
}

func (w *writer) commit(batch []request) {
	err := w.write(batch)
	if err != nil {
		w.logger.Error("persisting batch", "size", len(batch), "err", err.Error())
		err = &model.PersistenceError{SessionID: w.sessionID, Err: err}
	}
	for _, r := range batch {
		r.done <- err
	}
}

func (w *writer) write(batch []request) error {
	var newDrivers []string
	writes := 0
	for _, r := range batch {
		if r.sample != nil {
			writes++
			if !w.drivers[r.sample.DriverID] {
				newDrivers = append(newDrivers, r.sample.DriverID)
				w.drivers[r.sample.DriverID] = true
			}
		}
		if r.event != nil {
			writes++
		}
	}
	if writes == 0 {
		return nil
	}

	tx, err := w.db.Beginx()
	if err != nil {
		w.forget(newDrivers)
		return errors.Wrap(err, "beginning transaction")
	}
	if err := w.insert(tx, batch, newDrivers); err != nil {
		_ = tx.Rollback()
		w.forget(newDrivers)
		return err
	}
	if err := tx.Commit(); err != nil {
		w.forget(newDrivers)
		return errors.Wrap(err, "committing batch")
	}
	return nil
}

func (w *writer) insert(tx *sqlx.Tx, batch []request, newDrivers []string) error {
	for _, driverID := range newDrivers {
		query, args := buildInsertParticipantCommand(w.sessionID, driverID)
		if _, err := tx.Exec(tx.Rebind(query), args...); err != nil {
			return errors.Wrapf(err, "inserting participant %q", driverID)
		}
	}
	for _, r := range batch {
		var (
			query string
			args  []any
			err   error
		)
		switch {
		case r.sample != nil:
			query, args, err = buildInsertSampleCommand(r.sample)
		case r.event != nil:
			query, args, err = buildInsertEventCommand(r.event)
		default:
			continue
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(tx.Rebind(query), args...); err != nil {
			return errors.Wrap(err, "inserting row")
		}
	}
	return nil
}

func (w *writer) forget(drivers []string) {
	for _, d := range drivers {
		delete(w.drivers, d)
	}
}
