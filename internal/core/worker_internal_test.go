package core

import (
	"errors"
	"testing"

	"PayLedger/internal/event"
	"PayLedger/internal/ledger"
	"PayLedger/internal/observability"
	"PayLedger/internal/state"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitEvent_QueueFullDoesNotRecord(t *testing.T) {
	e := New(Config{Workers: 1, QueueCapacity: 1})
	// Running without workers: nothing drains the queue.
	e.lifecycle.Store(lifecycleRunning)

	require.NoError(t, e.SubmitEvent(event.Deposit(1, 1, decimal.NewFromInt(1))))

	err := e.SubmitEvent(event.Deposit(1, 2, decimal.NewFromInt(1)))
	require.True(t, errors.Is(err, ErrQueueFull), "got %v", err)

	_, ok := e.Ledger().FetchTransaction(2, 1)
	assert.False(t, ok, "queue-full rejection must not record the transaction")

	// Other shards are unaffected by one full queue.
	e2 := New(Config{Workers: 2, QueueCapacity: 1})
	e2.lifecycle.Store(lifecycleRunning)
	require.NoError(t, e2.SubmitEvent(event.Deposit(0, 1, decimal.NewFromInt(1))))
	require.NoError(t, e2.SubmitEvent(event.Deposit(1, 2, decimal.NewFromInt(1))))
}

func TestWorker_RecoversFromPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	l := ledger.New()
	require.NoError(t, l.Record(event.Deposit(1, 1, decimal.NewFromInt(3))))

	// A nil chart panics on the first mutation.
	queue := make(chan event.Event, 2)
	w := newWorker(0, queue, NewEventProcessor(l, nil), zerolog.Nop(), m)

	queue <- event.Deposit(1, 1, decimal.NewFromInt(3))
	queue <- event.Deposit(1, 99, decimal.NewFromInt(3)) // not recorded, ignored before touching the chart
	w.markDraining()
	close(queue)

	require.NoError(t, w.Run())
	assert.Equal(t, WorkerStopped, w.State())
	assert.Equal(t, uint64(2), w.Processed())
	assert.Equal(t, uint64(1), w.Failed())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkerPanics.WithLabelValues("0")))
}

func TestWorker_StateTransitions(t *testing.T) {
	queue := make(chan event.Event)
	w := newWorker(3, queue, NewEventProcessor(ledger.New(), state.NewChart()), zerolog.Nop(), nil)
	assert.Equal(t, WorkerRunning, w.State())

	done := make(chan struct{})
	go func() {
		_ = w.Run()
		close(done)
	}()

	w.markDraining()
	assert.Equal(t, WorkerDraining, w.State())
	close(queue)
	<-done
	assert.Equal(t, WorkerStopped, w.State())
	assert.Equal(t, "stopped", w.State().String())
}

func TestRejectReason(t *testing.T) {
	cases := map[error]string{
		ledger.ErrDuplicateTransaction: "duplicate",
		ledger.ErrMissingAmount:        "missing_amount",
		ledger.ErrUnknownTransaction:   "unknown_tx",
		ledger.ErrInvalidTransition:    "invalid_transition",
		ledger.ErrUnsupportedEvent:     "unsupported",
	}
	for err, want := range cases {
		assert.Equal(t, want, rejectReason(err))
	}
}
