package telemetry

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueFull = errors.New("telemetry queue full")
	ErrClosed    = errors.New("telemetry dispatcher closed")
)

const sinkTimeout = 5 * time.Second

// Sink persists or forwards a record.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
}

// Dispatcher fans records out to sinks on a fixed set of worker goroutines.
type Dispatcher struct {
	queue chan Record
	sinks []Sink
	wg    sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewDispatcher starts workers consuming a queue of queueSize records.
func NewDispatcher(queueSize, workers int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		queue: make(chan Record, queueSize),
		sinks: sinks,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.run(i)
	}
	return d
}

// Record enqueues rec, dropping it when the queue is full.
func (d *Dispatcher) Record(rec Record) {
	if err := d.TryRecord(rec); err != nil {
		log.Printf("[telemetry] drop record %s (%s): %v", rec.RequestID, rec.Status, err)
	}
}

// TryRecord enqueues rec without blocking.
func (d *Dispatcher) TryRecord(rec Record) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- rec:
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped reports how many records were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting records and waits for queued ones to be written.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(id int) {
	defer d.wg.Done()
	for rec := range d.queue {
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := sink.Write(ctx, rec); err != nil {
				log.Printf("[telemetry] worker-%d sink %s failed for %s: %v", id, sink.Name(), rec.RequestID, err)
			}
			cancel()
		}
	}
}
