package registry

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/queues"
)

var (
	ErrLeft          = errors.New("subscriber left")
	ErrSessionEnded  = errors.New("session ended")
	ErrNotReplaying  = errors.New("subscriber is not in replay mode")
	ErrAlreadyJoined = errors.New("subscriber already joined")
)

// Item is one delivery. Exactly one of Sample or Event is set, except for the
// marker that tells a backfilling subscriber it is now live.
type Item struct {
	Sample *model.TelemetrySample
	Event  *model.SessionEvent
	Live   bool
}

type entry[T any] struct {
	seq uint64
	val T
}

type eventKey struct {
	tsMs      int64
	eventType string
	driverID  string
}

// Stats is a point in time view of a subscriber's delivery state.
type Stats struct {
	LastDeliveredTsMs int64
	Dropped           uint64
	// LastDroppedTsMs is the newest timestamp lost to drop-oldest, -1 if none.
	LastDroppedTsMs int64
	Queued          int
	Mode            model.Mode
}

// Subscriber is the delivery handle of one viewer. The registry writes into it
// and the viewer's consuming goroutine drains it with Receive.
type Subscriber struct {
	ID        string
	SessionID string
	JoinedAt  time.Time

	reg *Registry

	mu      sync.Mutex
	mode    model.Mode
	joined  bool
	closed  bool
	closeBy error
	seq     uint64

	samples *queues.Ring[entry[model.TelemetrySample]]
	events  *queues.Queue[entry[model.SessionEvent]]
	marker  *entry[struct{}]

	// buffered while in replay mode, flushed by Promote
	pendingSamples *queues.Ring[model.TelemetrySample]
	pendingEvents  *queues.Queue[model.SessionEvent]
	watermarks     map[string]int64
	backfilled     map[eventKey]bool

	lastDelivered  int64
	lastDropped    int64
	dropped        uint64
	saturatedSince time.Time
	warned         bool

	notify chan struct{}
	space  chan struct{}
	done   chan struct{}
}

func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscriber was closed, nil while it is joined.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeBy
}

func (s *Subscriber) Mode() model.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Subscriber) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		LastDeliveredTsMs: s.lastDelivered,
		Dropped:           s.dropped,
		LastDroppedTsMs:   s.lastDropped,
		Queued:            s.samples.Len() + s.events.Len(),
		Mode:              s.mode,
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Subscriber) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// offerSample applies drop-oldest. It reports whether the subscriber has been
// saturated for longer than the timeout and must be evicted.
func (s *Subscriber) offerSample(sample model.TelemetrySample) (evict bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.mode == model.ModeReplay {
		if _, dropped := s.pendingSamples.Push(sample); dropped {
			s.dropped++
			s.reg.metrics.SampleDropped(context.Background(), s.SessionID)
		}
		return false
	}

	evict = s.pushSampleLocked(sample)
	signal(s.notify)
	return evict
}

func (s *Subscriber) pushSampleLocked(sample model.TelemetrySample) (evict bool) {
	if s.samples.IsFull() {
		now := s.reg.clock.Now()
		if s.saturatedSince.IsZero() {
			s.saturatedSince = now
			if !s.warned {
				s.warned = true
				s.reg.logger.Warn("subscriber queue saturated, dropping oldest samples",
					"session", s.SessionID, "subscriber", s.ID)
			}
		} else if now.Sub(s.saturatedSince) > s.reg.cfg.SaturationTimeout {
			evict = true
		}
	}
	if old, dropped := s.samples.Push(entry[model.TelemetrySample]{seq: s.nextSeq(), val: sample}); dropped {
		s.dropped++
		s.lastDropped = old.val.TsMs
		s.reg.metrics.SampleDropped(context.Background(), s.SessionID)
	}
	return evict
}

func (s *Subscriber) offerEvent(event model.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.mode == model.ModeReplay {
		s.pendingEvents.Push(event)
		return
	}
	s.events.Push(entry[model.SessionEvent]{seq: s.nextSeq(), val: event})
	signal(s.notify)
}

// Backfill delivers one historical item, waiting for queue space instead of
// dropping. Only valid before Promote.
func (s *Subscriber) Backfill(ctx context.Context, item Item) error {
	for {
		s.mu.Lock()
		if s.closed {
			err := s.closeBy
			s.mu.Unlock()
			return err
		}
		if s.mode != model.ModeReplay {
			s.mu.Unlock()
			return ErrNotReplaying
		}
		switch {
		case item.Event != nil:
			e := *item.Event
			s.events.Push(entry[model.SessionEvent]{seq: s.nextSeq(), val: e})
			s.backfilled[eventKey{e.TsMs, e.EventType, e.DriverID}] = true
			signal(s.notify)
			s.mu.Unlock()
			return nil
		case item.Sample != nil && !s.samples.IsFull():
			smp := *item.Sample
			s.samples.Push(entry[model.TelemetrySample]{seq: s.nextSeq(), val: smp})
			if wm, ok := s.watermarks[smp.DriverID]; !ok || smp.TsMs > wm {
				s.watermarks[smp.DriverID] = smp.TsMs
			}
			signal(s.notify)
			s.mu.Unlock()
			return nil
		case item.Sample == nil:
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		select {
		case <-s.space:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// promote flushes what arrived live during the backfill, skipping anything the
// backfill already covered, and switches to live delivery in one step.
func (s *Subscriber) promote() (evict bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, s.closeBy
	}
	if s.mode != model.ModeReplay {
		return false, ErrNotReplaying
	}
	for _, e := range s.pendingEvents.Drain() {
		if s.backfilled[eventKey{e.TsMs, e.EventType, e.DriverID}] {
			continue
		}
		s.events.Push(entry[model.SessionEvent]{seq: s.nextSeq(), val: e})
	}
	for _, smp := range s.pendingSamples.Drain() {
		if wm, ok := s.watermarks[smp.DriverID]; ok && smp.TsMs <= wm {
			continue
		}
		if s.pushSampleLocked(smp) {
			evict = true
		}
	}
	s.marker = &entry[struct{}]{seq: s.nextSeq()}
	s.mode = model.ModeLive
	s.watermarks = nil
	s.backfilled = nil
	signal(s.notify)
	return evict, nil
}

// Receive blocks until an item is available, the subscriber is closed or ctx
// is done. Items come out in the order they were queued.
func (s *Subscriber) Receive(ctx context.Context) (Item, error) {
	for {
		if item, ok, err := s.pop(); ok || err != nil {
			return item, err
		}
		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return Item{}, ctx.Err()
		}
	}
}

func (s *Subscriber) pop() (Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Item{}, false, s.closeBy
	}

	const none = ^uint64(0)
	sampleSeq, eventSeq, markerSeq := none, none, none
	if head, ok := s.samples.Peek(); ok {
		sampleSeq = head.seq
	}
	if !s.events.IsEmpty() {
		eventSeq = s.events.Peek().seq
	}
	if s.marker != nil {
		markerSeq = s.marker.seq
	}

	switch {
	case sampleSeq == none && eventSeq == none && markerSeq == none:
		return Item{}, false, nil
	case sampleSeq < eventSeq && sampleSeq < markerSeq:
		head, _ := s.samples.Pop()
		s.lastDelivered = head.val.TsMs
		// one pop frees a slot but does not end saturation, the queue has to
		// drain to half capacity first
		if s.samples.Len() <= s.samples.Cap()/2 {
			s.saturatedSince = time.Time{}
		}
		signal(s.space)
		return Item{Sample: &head.val}, true, nil
	case eventSeq < markerSeq:
		head := s.events.Pop()
		return Item{Event: &head.val}, true, nil
	default:
		s.marker = nil
		return Item{Live: true}, true, nil
	}
}

// close is called by the registry only.
func (s *Subscriber) close(reason error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.closeBy = reason
	close(s.done)
	return true
}
