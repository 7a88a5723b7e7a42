// Package worker delivers prediction records to the record sinks off the
// request path. Delivery is best effort: a full queue drops the record.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/medcost/internal/metrics"
	"github.com/vnmchuo/medcost/internal/records"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 10 * time.Second
)

type Dispatcher struct {
	sink    records.Sink
	queue   chan *records.Record
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

func NewDispatcher(sink records.Sink, queueSize int, writeTimeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan *records.Record, queueSize),
		timeout: writeTimeout,
		logger:  logger,
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Start launches the delivery goroutine. It is safe to call once.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	go d.process()
}

// Enqueue hands rec to the delivery goroutine without blocking. It reports
// whether the record was accepted.
func (d *Dispatcher) Enqueue(rec *records.Record) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(rec, "closed")
		return false
	}
	select {
	case d.queue <- rec:
		return true
	default:
		d.drop(rec, "queue full")
		return false
	}
}

// Shutdown stops accepting records and waits for queued ones to be written.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) process() {
	defer close(d.done)
	for rec := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sink.Write(ctx, rec)
		cancel()
		if err != nil {
			d.logger.Warn("record sink write failed",
				zap.String("record_id", rec.ID),
				zap.String("sink", d.sink.Name()),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) drop(rec *records.Record, reason string) {
	d.metrics.RecordsDropped.Inc()
	d.logger.Warn("record dropped",
		zap.String("record_id", rec.ID),
		zap.String("reason", reason),
	)
}
