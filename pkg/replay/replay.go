// Package replay serves recorded session data: whole sessions for offline
// review and the backfill a viewer gets before it switches to live delivery.
package replay

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/registry"
	"f1telemetryhub/pkg/store"
)

type Store interface {
	GetSession(ctx context.Context, id string) (model.Session, error)
	QuerySamples(ctx context.Context, q store.SampleQuery) (store.Page[model.TelemetrySample], error)
	QueryEvents(ctx context.Context, q store.EventQuery) (store.Page[model.SessionEvent], error)
	Sync(ctx context.Context, sessionID string) error
	LatestTsMs(ctx context.Context, sessionID string) (int64, bool, error)
	LatestEventTsMs(ctx context.Context, sessionID string) (int64, bool, error)
}

type Controller struct {
	store    Store
	registry *registry.Registry
	pageSize int
	logger   *slog.Logger
}

func New(st Store, reg *registry.Registry, pageSize int, logger *slog.Logger) *Controller {
	if pageSize <= 0 {
		pageSize = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:    st,
		registry: reg,
		pageSize: pageSize,
		logger:   logger.With("component", "replay"),
	}
}

type Loaded struct {
	Session model.Session                     `json:"session"`
	Samples store.Page[model.TelemetrySample] `json:"samples"`
	Events  store.Page[model.SessionEvent]    `json:"events"`
}

// LoadSession returns the session metadata with the first page of samples
// and events.
func (c *Controller) LoadSession(ctx context.Context, sessionID string) (Loaded, error) {
	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return Loaded{}, err
	}
	samples, err := c.store.QuerySamples(ctx, store.SampleQuery{SessionID: sessionID, Limit: c.pageSize})
	if err != nil {
		return Loaded{}, err
	}
	events, err := c.store.QueryEvents(ctx, store.EventQuery{SessionID: sessionID, Limit: c.pageSize})
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{Session: s, Samples: samples, Events: events}, nil
}

// BackfillThenPromote joins sub (created in replay mode) to the session,
// delivers the last lookbackMs of recorded data and then switches it to live.
//
// The join happens first, so everything published afterwards is buffered by
// the subscriber. The store is then synced, which makes everything published
// before the join durable, and the backfill query is left open ended. The two
// sets overlap instead of leaving a gap, and Promote discards buffered items
// already covered by the backfill.
func (c *Controller) BackfillThenPromote(ctx context.Context, sessionID string, sub *registry.Subscriber, lookbackMs int64) (string, error) {
	if sub.Mode() != model.ModeReplay {
		return "", registry.ErrNotReplaying
	}
	id, err := c.registry.Join(ctx, sessionID, sub)
	if err != nil {
		return "", err
	}
	if err := c.backfill(ctx, sessionID, sub, lookbackMs); err != nil {
		c.registry.Leave(id)
		return "", err
	}
	if err := c.registry.Promote(sub); err != nil {
		c.registry.Leave(id)
		return "", err
	}
	return id, nil
}

func (c *Controller) backfill(ctx context.Context, sessionID string, sub *registry.Subscriber, lookbackMs int64) error {
	if lookbackMs <= 0 {
		return nil
	}
	if err := c.store.Sync(ctx, sessionID); err != nil {
		return errors.Wrap(err, "syncing store before backfill")
	}
	latest, ok, err := c.latest(ctx, sessionID)
	if err != nil || !ok {
		return err
	}
	from := max(latest-lookbackMs, 0)

	samples := &sampleCursor{c: c, q: store.SampleQuery{SessionID: sessionID, StartTsMs: from, Limit: c.pageSize}}
	events := &eventCursor{c: c, q: store.EventQuery{SessionID: sessionID, StartTsMs: from, Limit: c.pageSize}}
	n := 0
	for {
		s, sok, err := samples.peek(ctx)
		if err != nil {
			return err
		}
		e, eok, err := events.peek(ctx)
		if err != nil {
			return err
		}
		var item registry.Item
		switch {
		case !sok && !eok:
			c.logger.Debug("backfill complete", "session", sessionID, "subscriber", sub.ID, "items", n, "fromTsMs", from)
			return nil
		case sok && (!eok || s.TsMs <= e.TsMs):
			item.Sample = &s
			samples.advance()
		default:
			item.Event = &e
			events.advance()
		}
		if err := sub.Backfill(ctx, item); err != nil {
			return err
		}
		n++
	}
}

// latest is the newest recorded timestamp of a session, sample or event. A
// session may carry events (flags before the start) without any sample.
func (c *Controller) latest(ctx context.Context, sessionID string) (int64, bool, error) {
	sampleTs, sok, err := c.store.LatestTsMs(ctx, sessionID)
	if err != nil {
		return 0, false, err
	}
	eventTs, eok, err := c.store.LatestEventTsMs(ctx, sessionID)
	if err != nil {
		return 0, false, err
	}
	switch {
	case sok && eok:
		return max(sampleTs, eventTs), true, nil
	case sok:
		return sampleTs, true, nil
	default:
		return eventTs, eok, nil
	}
}

// sampleCursor walks the pages of an open ended sample query.
type sampleCursor struct {
	c    *Controller
	q    store.SampleQuery
	page []model.TelemetrySample
	done bool
}

func (sc *sampleCursor) peek(ctx context.Context) (model.TelemetrySample, bool, error) {
	for len(sc.page) == 0 {
		if sc.done {
			return model.TelemetrySample{}, false, nil
		}
		page, err := sc.c.store.QuerySamples(ctx, sc.q)
		if err != nil {
			return model.TelemetrySample{}, false, err
		}
		sc.page = page.Items
		if page.NextCursor == "" {
			sc.done = true
			continue
		}
		cur, err := store.ParseCursor(page.NextCursor)
		if err != nil {
			return model.TelemetrySample{}, false, err
		}
		sc.q.After = &cur
	}
	return sc.page[0], true, nil
}

func (sc *sampleCursor) advance() {
	sc.page = sc.page[1:]
}

type eventCursor struct {
	c    *Controller
	q    store.EventQuery
	page []model.SessionEvent
	done bool
}

func (ec *eventCursor) peek(ctx context.Context) (model.SessionEvent, bool, error) {
	for len(ec.page) == 0 {
		if ec.done {
			return model.SessionEvent{}, false, nil
		}
		page, err := ec.c.store.QueryEvents(ctx, ec.q)
		if err != nil {
			return model.SessionEvent{}, false, err
		}
		ec.page = page.Items
		if page.NextCursor == "" {
			ec.done = true
			continue
		}
		cur, err := store.ParseCursor(page.NextCursor)
		if err != nil {
			return model.SessionEvent{}, false, err
		}
		ec.q.After = &cur
	}
	return ec.page[0], true, nil
}

func (ec *eventCursor) advance() {
	ec.page = ec.page[1:]
}
