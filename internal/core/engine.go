// Package core runs the payments engine: a fixed pool of workers, one per
// shard, fed by a producer that records each event in the ledger before
// queueing it on the shard owning the event's client.
package core

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"PayLedger/internal/event"
	"PayLedger/internal/ledger"
	"PayLedger/internal/observability"
	"PayLedger/internal/state"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers         = 4
	DefaultQueueCapacity   = 100
	DefaultShutdownTimeout = 30 * time.Second
)

// Config sizes the worker pool.
type Config struct {
	Workers       int
	QueueCapacity int

	// ShutdownTimeout bounds the drain Run performs when its context is cancelled.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default pool size.
func DefaultConfig() Config {
	return Config{
		Workers:         DefaultWorkers,
		QueueCapacity:   DefaultQueueCapacity,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLedger injects a pre-built ledger, e.g. one shared with a query layer.
func WithLedger(l *ledger.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithChart injects a pre-built account chart.
func WithChart(c *state.Chart) Option {
	return func(e *Engine) { e.chart = c }
}

const (
	lifecycleNew int32 = iota
	lifecycleRunning
	lifecycleStopped
)

// shard pairs a worker queue with the lock that serializes submissions to it.
type shard struct {
	label  string
	mu     sync.Mutex
	queue  chan event.Event
	closed bool
	worker *Worker
}

// Engine is the concurrent payments engine.
type Engine struct {
	cfg     Config
	runID   uuid.UUID
	ledger  *ledger.Ledger
	chart   *state.Chart
	logger  zerolog.Logger
	metrics *observability.Metrics

	shards    []*shard
	startMu   sync.Mutex // orders StartWorkers against Shutdown
	lifecycle atomic.Int32
	group     errgroup.Group

	shutdownOnce sync.Once
	done         chan struct{}
	waitErr      error
}

// New creates an engine. Non-positive config values fall back to the defaults.
func New(cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:    cfg,
		runID:  uuid.New(),
		logger: zerolog.Nop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ledger == nil {
		e.ledger = ledger.New()
	}
	if e.chart == nil {
		e.chart = state.NewChart()
	}
	e.logger = e.logger.With().Str("run_id", e.runID.String()).Logger()

	e.shards = make([]*shard, cfg.Workers)
	for i := range e.shards {
		e.shards[i] = &shard{
			label: strconv.Itoa(i),
			queue: make(chan event.Event, cfg.QueueCapacity),
		}
	}
	return e
}

// StartWorkers launches one worker goroutine per shard.
func (e *Engine) StartWorkers() error {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	if !e.lifecycle.CompareAndSwap(lifecycleNew, lifecycleRunning) {
		if e.lifecycle.Load() == lifecycleRunning {
			return ErrAlreadyStarted
		}
		return ErrEngineStopped
	}

	processor := NewEventProcessor(e.ledger, e.chart)
	for i, sh := range e.shards {
		w := newWorker(i, sh.queue, processor, e.logger, e.metrics)
		sh.mu.Lock()
		sh.worker = w
		sh.mu.Unlock()
		if e.metrics != nil {
			e.metrics.SetQueueMetrics(sh.label, len(sh.queue), cap(sh.queue))
		}
		e.group.Go(w.Run)
	}

	e.logger.Info().
		Int("workers", e.cfg.Workers).
		Int("queue_capacity", e.cfg.QueueCapacity).
		Msg("engine started")
	return nil
}

// SubmitEvent records ev in the ledger and queues it on its shard.
//
// Queue room is checked before recording, under the shard lock, so an
// ErrQueueFull rejection leaves the ledger untouched and the send that
// follows a successful Record never blocks. Ledger rejections are returned
// as-is and the event is not queued.
func (e *Engine) SubmitEvent(ev event.Event) error {
	kind := ev.Kind.String()

	if e.lifecycle.Load() != lifecycleRunning {
		e.reject(ev, "stopped", ErrEngineStopped)
		return ErrEngineStopped
	}

	sh := e.shardFor(ev.Client)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.closed {
		e.reject(ev, "stopped", ErrEngineStopped)
		return ErrEngineStopped
	}
	if len(sh.queue) == cap(sh.queue) {
		e.reject(ev, "queue_full", ErrQueueFull)
		return ErrQueueFull
	}

	if err := e.ledger.Record(ev); err != nil {
		e.reject(ev, rejectReason(err), err)
		return err
	}

	sh.queue <- ev

	if e.metrics != nil {
		e.metrics.EventsSubmitted.WithLabelValues(kind).Inc()
		e.metrics.SetQueueMetrics(sh.label, len(sh.queue), cap(sh.queue))
	}
	return nil
}

func (e *Engine) shardFor(client event.ClientID) *shard {
	return e.shards[int(client)%len(e.shards)]
}

func (e *Engine) reject(ev event.Event, reason string, err error) {
	// Queue-full is retried by Run and would flood the log at warn.
	level := zerolog.WarnLevel
	if errors.Is(err, ErrQueueFull) {
		level = zerolog.DebugLevel
	}
	e.logger.WithLevel(level).
		Err(err).
		Str("event_type", ev.Kind.String()).
		Uint16("client", uint16(ev.Client)).
		Uint32("tx", uint32(ev.Tx)).
		Str("reason", reason).
		Msg("event rejected")
	if e.metrics != nil {
		e.metrics.EventsRejected.WithLabelValues(ev.Kind.String(), reason).Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return "duplicate"
	case errors.Is(err, ledger.ErrMissingAmount):
		return "missing_amount"
	case errors.Is(err, ledger.ErrUnknownTransaction):
		return "unknown_tx"
	case errors.Is(err, ledger.ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "unsupported"
	}
}

// Shutdown stops accepting events, closes every queue and waits until all
// workers have drained them. Only the first call signals; every call waits.
// It returns ctx.Err() if ctx expires before the drain completes.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.startMu.Lock()
		defer e.startMu.Unlock()

		wasRunning := e.lifecycle.Swap(lifecycleStopped) == lifecycleRunning
		start := time.Now()

		for _, sh := range e.shards {
			sh.mu.Lock()
			if !sh.closed {
				if sh.worker != nil {
					sh.worker.markDraining()
				}
				close(sh.queue)
				sh.closed = true
			}
			sh.mu.Unlock()
		}

		if !wasRunning {
			close(e.done)
			return
		}

		go func() {
			e.waitErr = e.group.Wait()
			if e.metrics != nil {
				e.metrics.DrainDuration.Observe(time.Since(start).Seconds())
			}
			e.recordChartMetrics()
			e.logger.Info().
				Dur("drain", time.Since(start)).
				Int("accounts", e.chart.Len()).
				Msg("engine stopped")
			close(e.done)
		}()
	})

	select {
	case <-e.done:
		return e.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) recordChartMetrics() {
	if e.metrics == nil {
		return
	}
	accounts := e.chart.Accounts()
	locked := 0
	for i := range accounts {
		if accounts[i].Locked {
			locked++
		}
	}
	e.metrics.Accounts.Set(float64(len(accounts)))
	e.metrics.LockedAccounts.Set(float64(locked))
}

// Done is closed once every worker has stopped after Shutdown.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Run is the producer loop. It submits every event from msgs, retrying
// ErrQueueFull with exponential backoff and skipping events the ledger
// rejects. End of stream, or a closed channel, triggers Shutdown.
//
// If ctx is cancelled first, Run still drains what was already queued
// (bounded by Config.ShutdownTimeout) and returns ctx.Err().
func (e *Engine) Run(ctx context.Context, msgs <-chan event.StreamMessage) error {
	for {
		select {
		case <-ctx.Done():
			return e.abort(ctx)

		case msg, ok := <-msgs:
			if !ok || msg.EndOfStream {
				return e.Shutdown(ctx)
			}
			if err := e.submitWithRetry(ctx, msg.Event); err != nil {
				switch {
				case ctx.Err() != nil:
					return e.abort(ctx)
				case errors.Is(err, ErrEngineStopped):
					return err
				}
				// Ledger rejection: logged and counted by SubmitEvent.
			}
		}
	}
}

func (e *Engine) abort(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		e.logger.Error().Err(err).Msg("drain after cancellation did not complete")
	}
	return ctx.Err()
}

func (e *Engine) submitWithRetry(ctx context.Context, ev event.Event) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := e.SubmitEvent(ev)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrQueueFull):
			if e.metrics != nil {
				e.metrics.QueueFullRetries.Inc()
			}
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(newQueueBackOff()))
	return err
}

func newQueueBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	return b
}

// RunID identifies this engine instance in logs and sinks.
func (e *Engine) RunID() uuid.UUID { return e.runID }

// Ledger returns the shared ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Chart returns the shared account chart.
func (e *Engine) Chart() *state.Chart { return e.chart }

// Accounts returns a copy of every account ordered by client id.
func (e *Engine) Accounts() []state.Account { return e.chart.Accounts() }

// Account returns a copy of one client's account.
func (e *Engine) Account(client event.ClientID) (state.Account, bool) {
	return e.chart.Get(client)
}

// Digest returns the deterministic hash of the account chart.
func (e *Engine) Digest() [32]byte { return state.Digest(e.chart) }

// Workers returns the pool in shard order. It is empty before StartWorkers.
func (e *Engine) Workers() []*Worker {
	out := make([]*Worker, 0, len(e.shards))
	for _, sh := range e.shards {
		sh.mu.Lock()
		if sh.worker != nil {
			out = append(out, sh.worker)
		}
		sh.mu.Unlock()
	}
	return out
}
