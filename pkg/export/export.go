// Package export mirrors published samples to external systems. Sinks are
// fed through a bounded pump so a slow or unreachable broker never holds up
// live delivery.
package export

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"f1telemetryhub/pkg/metrics"
	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/queues"
)

type Sink interface {
	Name() string
	Write(ctx context.Context, samples []model.TelemetrySample) error
	Close() error
}

const (
	defaultQueueSize = 4096
	defaultBatchSize = 256
	writeTimeout     = 5 * time.Second
)

// Pump buffers samples in a drop-oldest ring and writes them to every sink in
// batches from its own goroutine.
type Pump struct {
	sinks     []Sink
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Instruments

	mu      sync.Mutex
	ring    *queues.Ring[model.TelemetrySample]
	dropped uint64
	notify  chan struct{}
}

func NewPump(queueSize int, logger *slog.Logger, in *metrics.Instruments, sinks ...Sink) *Pump {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pump{
		sinks:     sinks,
		batchSize: defaultBatchSize,
		logger:    logger.With("component", "export"),
		metrics:   in,
		ring:      queues.NewRing[model.TelemetrySample](queueSize),
		notify:    make(chan struct{}, 1),
	}
}

// OfferSample never blocks. When the ring is full the oldest sample is lost.
func (p *Pump) OfferSample(s model.TelemetrySample) {
	p.mu.Lock()
	_, dropped := p.ring.Push(s)
	if dropped {
		p.dropped++
	}
	p.mu.Unlock()
	if dropped {
		p.metrics.ExportDropped(context.Background(), "pump")
	}
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Pump) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Pump) next() []model.TelemetrySample {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := min(p.ring.Len(), p.batchSize)
	if n == 0 {
		return nil
	}
	batch := make([]model.TelemetrySample, 0, n)
	for range n {
		s, _ := p.ring.Pop()
		batch = append(batch, s)
	}
	return batch
}

// Run writes batches until ctx is done, then flushes what is left and closes
// the sinks.
func (p *Pump) Run(ctx context.Context) {
	defer p.close()
	for {
		select {
		case <-p.notify:
			p.flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			p.flush(flushCtx)
			cancel()
			return
		}
	}
}

func (p *Pump) flush(ctx context.Context) {
	for {
		batch := p.next()
		if batch == nil {
			return
		}
		for _, sink := range p.sinks {
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			if err := sink.Write(writeCtx, batch); err != nil {
				p.logger.Warn("export batch lost", "sink", sink.Name(), "samples", len(batch), "err", err.Error())
				for range batch {
					p.metrics.ExportDropped(ctx, sink.Name())
				}
			}
			cancel()
		}
	}
}

func (p *Pump) close() {
	for _, sink := range p.sinks {
		if err := sink.Close(); err != nil {
			p.logger.Warn("closing sink", "sink", sink.Name(), "err", err.Error())
		}
	}
}
