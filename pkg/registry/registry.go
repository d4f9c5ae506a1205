// Package registry keeps the live subscribers of every session.
//
// The subscriber set of a session is published as an immutable slice behind
// an atomic pointer. Join and Leave copy it under a per-session mutex, so the
// broadcaster iterates a snapshot without locking and unrelated sessions never
// share a lock.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"f1telemetryhub/pkg/metrics"
	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/queues"
)

type Config struct {
	// QueueSize bounds the live sample queue of every subscriber.
	QueueSize int
	// PendingSize bounds samples buffered while a subscriber backfills.
	PendingSize       int
	SaturationTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.PendingSize <= 0 {
		c.PendingSize = 8192
	}
	if c.SaturationTimeout <= 0 {
		c.SaturationTimeout = 5 * time.Second
	}
}

// SessionChecker tells whether a session accepts subscribers.
type SessionChecker interface {
	CheckLive(ctx context.Context, sessionID string) error
}

type sessionSubs struct {
	mu       sync.Mutex
	closed   bool
	snapshot atomic.Pointer[[]*Subscriber]
}

type Registry struct {
	cfg      Config
	sessions SessionChecker
	clock    Clock
	logger   *slog.Logger
	metrics  *metrics.Instruments

	bySession sync.Map // session id -> *sessionSubs
	byID      sync.Map // subscriber id -> *Subscriber
}

func New(cfg Config, sessions SessionChecker, clock Clock, logger *slog.Logger, in *metrics.Instruments) *Registry {
	cfg.applyDefaults()
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		sessions: sessions,
		clock:    clock,
		logger:   logger.With("component", "registry"),
		metrics:  in,
	}
}

// NewSubscriber builds an unjoined handle. A subscriber created in replay mode
// buffers live traffic until Promote.
func (r *Registry) NewSubscriber(mode model.Mode) *Subscriber {
	s := &Subscriber{
		reg:           r,
		mode:          mode,
		samples:       queues.NewRing[entry[model.TelemetrySample]](r.cfg.QueueSize),
		events:        queues.NewQueue[entry[model.SessionEvent]](),
		lastDelivered: -1,
		lastDropped:   -1,
		notify:        make(chan struct{}, 1),
		space:         make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	if mode == model.ModeReplay {
		s.pendingSamples = queues.NewRing[model.TelemetrySample](r.cfg.PendingSize)
		s.pendingEvents = queues.NewQueue[model.SessionEvent]()
		s.watermarks = map[string]int64{}
		s.backfilled = map[eventKey]bool{}
	}
	return s
}

// Join registers sub as a fan-out target of sessionID.
func (r *Registry) Join(ctx context.Context, sessionID string, sub *Subscriber) (string, error) {
	if r.sessions != nil {
		if err := r.sessions.CheckLive(ctx, sessionID); err != nil {
			return "", err
		}
	}

	sub.mu.Lock()
	if sub.joined {
		sub.mu.Unlock()
		return "", ErrAlreadyJoined
	}
	sub.joined = true
	sub.ID = uuid.NewString()
	sub.SessionID = sessionID
	sub.JoinedAt = r.clock.Now()
	mode := sub.mode
	sub.mu.Unlock()

	v, _ := r.bySession.LoadOrStore(sessionID, &sessionSubs{})
	ss := v.(*sessionSubs)
	ss.mu.Lock()
	if ss.closed {
		ss.mu.Unlock()
		sub.close(ErrSessionEnded)
		return "", &model.UnknownSessionError{SessionID: sessionID, Ended: true}
	}
	var next []*Subscriber
	if cur := ss.snapshot.Load(); cur != nil {
		next = make([]*Subscriber, 0, len(*cur)+1)
		next = append(next, *cur...)
	}
	next = append(next, sub)
	ss.snapshot.Store(&next)
	ss.mu.Unlock()

	r.byID.Store(sub.ID, sub)
	r.metrics.SubscriberJoined(ctx, sessionID)

	// CloseSession may have run between the first check and the insert above.
	if r.sessions != nil {
		if err := r.sessions.CheckLive(ctx, sessionID); err != nil {
			r.leave(sub.ID, ErrSessionEnded)
			return "", err
		}
	}
	r.logger.Debug("subscriber joined", "session", sessionID, "subscriber", sub.ID, "mode", mode.String())
	return sub.ID, nil
}

// Leave is idempotent.
func (r *Registry) Leave(subscriberID string) {
	r.leave(subscriberID, ErrLeft)
}

func (r *Registry) leave(subscriberID string, reason error) bool {
	v, ok := r.byID.LoadAndDelete(subscriberID)
	if !ok {
		return false
	}
	sub := v.(*Subscriber)
	if ssv, ok := r.bySession.Load(sub.SessionID); ok {
		ss := ssv.(*sessionSubs)
		ss.mu.Lock()
		if cur := ss.snapshot.Load(); cur != nil {
			next := make([]*Subscriber, 0, len(*cur))
			for _, s := range *cur {
				if s != sub {
					next = append(next, s)
				}
			}
			ss.snapshot.Store(&next)
		}
		ss.mu.Unlock()
	}
	sub.close(reason)
	r.metrics.SubscriberLeft(context.Background(), sub.SessionID)
	return true
}

func (r *Registry) evict(sub *Subscriber) {
	st := sub.Stats()
	reason := &model.SubscriberBackpressureError{SubscriberID: sub.ID, Dropped: st.Dropped}
	if r.leave(sub.ID, reason) {
		r.metrics.SubscriberEvicted(context.Background(), sub.SessionID)
		r.logger.Warn("subscriber evicted", "session", sub.SessionID, "subscriber", sub.ID,
			"dropped", st.Dropped, "lastDeliveredTsMs", st.LastDeliveredTsMs)
	}
}

// ListLive returns the current subscriber snapshot of a session. The slice is
// shared and must not be modified; later joins and leaves never alter it.
func (r *Registry) ListLive(sessionID string) []*Subscriber {
	v, ok := r.bySession.Load(sessionID)
	if !ok {
		return nil
	}
	if cur := v.(*sessionSubs).snapshot.Load(); cur != nil {
		return *cur
	}
	return nil
}

func (r *Registry) Get(subscriberID string) (*Subscriber, bool) {
	v, ok := r.byID.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return v.(*Subscriber), true
}

// DeliverSample offers sample to one subscriber under the drop-oldest policy.
// A subscriber that already left is skipped silently.
func (r *Registry) DeliverSample(sub *Subscriber, sample model.TelemetrySample) {
	if sub.offerSample(sample) {
		r.evict(sub)
	}
}

// DeliverEvent never drops.
func (r *Registry) DeliverEvent(sub *Subscriber, event model.SessionEvent) {
	sub.offerEvent(event)
}

// Promote switches a backfilled subscriber to live delivery.
func (r *Registry) Promote(sub *Subscriber) error {
	evict, err := sub.promote()
	if evict {
		r.evict(sub)
	}
	return err
}

// CloseSession disconnects every subscriber of an ended session.
func (r *Registry) CloseSession(sessionID string) int {
	v, ok := r.bySession.Load(sessionID)
	if !ok {
		return 0
	}
	ss := v.(*sessionSubs)
	ss.mu.Lock()
	ss.closed = true
	ss.mu.Unlock()

	n := 0
	for _, sub := range r.ListLive(sessionID) {
		if r.leave(sub.ID, ErrSessionEnded) {
			n++
		}
	}
	r.bySession.Delete(sessionID)
	return n
}

// Count returns the number of joined subscribers across all sessions.
func (r *Registry) Count() int {
	n := 0
	r.byID.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
