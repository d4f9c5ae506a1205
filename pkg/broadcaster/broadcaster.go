// Package broadcaster is the fan-out core: every accepted sample is handed to
// the session store and offered to each live subscriber of its session.
package broadcaster

import (
	"context"
	"log/slog"
	"sync"

	"f1telemetryhub/pkg/metrics"
	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/normalizer"
	"f1telemetryhub/pkg/registry"
)

// Store is the durability leg. Enqueue calls must return without waiting for
// the write; the returned channel yields its outcome.
type Store interface {
	EnqueueSample(ctx context.Context, s model.TelemetrySample) (<-chan error, error)
	EnqueueEvent(ctx context.Context, e model.SessionEvent) (<-chan error, error)
	EndSession(ctx context.Context, id, reason string) (model.Session, error)
}

// Tap receives a copy of every published sample, e.g. an export pump. It must
// not block.
type Tap interface {
	OfferSample(s model.TelemetrySample)
}

type Broadcaster struct {
	store    Store
	registry *registry.Registry
	taps     []Tap
	logger   *slog.Logger
	metrics  *metrics.Instruments

	// session id -> *sync.Mutex; keeps enqueue order equal to fan-out order
	lanes sync.Map
}

func New(store Store, reg *registry.Registry, logger *slog.Logger, in *metrics.Instruments, taps ...Tap) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		store:    store,
		registry: reg,
		taps:     taps,
		logger:   logger.With("component", "broadcaster"),
		metrics:  in,
	}
}

func (b *Broadcaster) lane(sessionID string) *sync.Mutex {
	v, _ := b.lanes.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Publish persists and fans out one sample. Delivery happens as soon as the
// sample is queued for persistence; the call then waits for the durable write
// and returns a PersistenceError if it failed. An unknown or ended session is
// rejected before anything is delivered.
func (b *Broadcaster) Publish(ctx context.Context, sessionID string, sample model.TelemetrySample) error {
	sample.SessionID = sessionID

	lane := b.lane(sessionID)
	lane.Lock()
	done, err := b.store.EnqueueSample(ctx, sample)
	if err != nil {
		lane.Unlock()
		return err
	}
	for _, sub := range b.registry.ListLive(sessionID) {
		b.registry.DeliverSample(sub, sample)
	}
	for _, tap := range b.taps {
		tap.OfferSample(sample)
	}
	lane.Unlock()

	b.metrics.SamplePublished(ctx, sessionID)
	return b.awaitWrite(ctx, sessionID, done)
}

// PublishEvent follows Publish; events are never dropped by subscribers.
func (b *Broadcaster) PublishEvent(ctx context.Context, sessionID string, event model.SessionEvent) error {
	event.SessionID = sessionID

	lane := b.lane(sessionID)
	lane.Lock()
	done, err := b.store.EnqueueEvent(ctx, event)
	if err != nil {
		lane.Unlock()
		return err
	}
	for _, sub := range b.registry.ListLive(sessionID) {
		b.registry.DeliverEvent(sub, event)
	}
	lane.Unlock()

	return b.awaitWrite(ctx, sessionID, done)
}

// Ingest normalizes a raw sample and publishes it.
func (b *Broadcaster) Ingest(ctx context.Context, in normalizer.Input) (model.TelemetrySample, error) {
	sample, err := normalizer.Normalize(in)
	if err != nil {
		b.logger.Debug("rejected raw sample", "session", in.SessionID, "err", err.Error())
		return sample, err
	}
	return sample, b.Publish(ctx, sample.SessionID, sample)
}

func (b *Broadcaster) awaitWrite(ctx context.Context, sessionID string, done <-chan error) error {
	select {
	case err := <-done:
		if err != nil {
			b.metrics.PersistenceFailed(ctx, sessionID)
			if !model.IsPersistence(err) {
				err = &model.PersistenceError{SessionID: sessionID, Err: err}
			}
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndSession ends the session in the store and disconnects its viewers.
func (b *Broadcaster) EndSession(ctx context.Context, sessionID, reason string) (model.Session, error) {
	lane := b.lane(sessionID)
	lane.Lock()
	s, err := b.store.EndSession(ctx, sessionID, reason)
	lane.Unlock()
	if err != nil {
		return s, err
	}
	if n := b.registry.CloseSession(sessionID); n > 0 {
		b.logger.Info("disconnected viewers of ended session", "session", sessionID, "viewers", n)
	}
	b.lanes.Delete(sessionID)
	return s, nil
}
