package core

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"PayLedger/internal/event"
	"PayLedger/internal/observability"

	"github.com/rs/zerolog"
)

// WorkerState is the lifecycle of a worker: Running -> Draining -> Stopped.
type WorkerState int32

const (
	WorkerRunning WorkerState = iota
	WorkerDraining
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerRunning:
		return "running"
	case WorkerDraining:
		return "draining"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker owns one shard: it consumes its queue in FIFO order and hands every
// event synchronously to the processor. Events for one client always land in
// the same queue, so a client's events are applied in submission order.
type Worker struct {
	id        int
	label     string
	queue     chan event.Event
	processor *EventProcessor
	logger    zerolog.Logger
	metrics   *observability.Metrics

	state     atomic.Int32
	processed atomic.Uint64
	failed    atomic.Uint64
}

func newWorker(id int, queue chan event.Event, processor *EventProcessor, logger zerolog.Logger, metrics *observability.Metrics) *Worker {
	label := strconv.Itoa(id)
	return &Worker{
		id:        id,
		label:     label,
		queue:     queue,
		processor: processor,
		logger:    logger.With().Int("worker", id).Logger(),
		metrics:   metrics,
	}
}

// ID returns the shard index of the worker.
func (w *Worker) ID() int { return w.id }

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Processed returns the number of events handed to the processor, including failed ones.
func (w *Worker) Processed() uint64 { return w.processed.Load() }

// Failed returns the number of events whose processing panicked.
func (w *Worker) Failed() uint64 { return w.failed.Load() }

// markDraining is called by the engine right before it closes the queue.
func (w *Worker) markDraining() {
	w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerDraining))
}

// Run consumes the queue until it is closed and empty. It never drops an
// event and always returns nil.
func (w *Worker) Run() error {
	if w.metrics != nil {
		w.metrics.WorkersRunning.Inc()
	}
	defer func() {
		w.state.Store(int32(WorkerStopped))
		if w.metrics != nil {
			w.metrics.WorkersRunning.Dec()
		}
		w.logger.Debug().
			Uint64("processed", w.processed.Load()).
			Uint64("failed", w.failed.Load()).
			Msg("worker stopped")
	}()

	for ev := range w.queue {
		w.process(ev)
	}
	return nil
}

func (w *Worker) process(ev event.Event) {
	start := time.Now()
	kind := ev.Kind.String()

	defer func() {
		w.processed.Add(1)
		if r := recover(); r != nil {
			w.failed.Add(1)
			w.logger.Error().
				Str("event_type", kind).
				Uint16("client", uint16(ev.Client)).
				Uint32("tx", uint32(ev.Tx)).
				Str("panic", fmt.Sprint(r)).
				Msg("event processing panicked")
			if w.metrics != nil {
				w.metrics.WorkerPanics.WithLabelValues(w.label).Inc()
			}
		}
		if w.metrics != nil {
			w.metrics.SetQueueMetrics(w.label, len(w.queue), cap(w.queue))
		}
	}()

	outcome := w.processor.Process(ev)

	if !outcome.Applied {
		w.logger.Debug().
			Str("event_type", kind).
			Uint16("client", uint16(ev.Client)).
			Uint32("tx", uint32(ev.Tx)).
			Str("reason", outcome.Reason).
			Msg("event ignored")
		if w.metrics != nil {
			w.metrics.EventsIgnored.WithLabelValues(kind, outcome.Reason).Inc()
		}
		return
	}

	if w.metrics != nil {
		w.metrics.EventsApplied.WithLabelValues(kind).Inc()
		w.metrics.EventDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}
