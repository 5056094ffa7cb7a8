package core_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"PayLedger/internal/core"
	"PayLedger/internal/event"
	"PayLedger/internal/ledger"
	"PayLedger/internal/observability"
	"PayLedger/internal/state"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newStartedEngine(t *testing.T, workers int) *core.Engine {
	t.Helper()
	e := core.New(core.Config{Workers: workers, QueueCapacity: 1024})
	require.NoError(t, e.StartWorkers())
	return e
}

// submitAll submits events in order, retrying full queues, and shuts the
// engine down. It returns the per-event submission errors.
func submitAll(t *testing.T, e *core.Engine, events ...event.Event) []error {
	t.Helper()
	errs := make([]error, len(events))
	for i, ev := range events {
		for {
			errs[i] = e.SubmitEvent(ev)
			if !errors.Is(errs[i], core.ErrQueueFull) {
				break
			}
			time.Sleep(100 * time.Microsecond)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
	return errs
}

func requireAccount(t *testing.T, e *core.Engine, client event.ClientID, available, held string, locked bool) state.Account {
	t.Helper()
	acct, ok := e.Account(client)
	require.True(t, ok, "account %d missing", client)
	assert.True(t, acct.Available.Equal(amt(available)), "available = %s, want %s", acct.Available, available)
	assert.True(t, acct.Held.Equal(amt(held)), "held = %s, want %s", acct.Held, held)
	assert.Equal(t, locked, acct.Locked, "locked")
	return acct
}

// ============================================================================
// Test: Scenarios
// ============================================================================

func TestScenarioA_Deposit(t *testing.T) {
	e := newStartedEngine(t, 4)
	errs := submitAll(t, e, event.Deposit(1, 1, amt("10.0")))
	require.NoError(t, errs[0])

	requireAccount(t, e, 1, "10", "0", false)
}

func TestScenarioB_DuplicateDeposit(t *testing.T) {
	e := newStartedEngine(t, 4)
	errs := submitAll(t, e,
		event.Deposit(1, 1, amt("20.0")),
		event.Deposit(1, 1, amt("5.0")),
	)
	require.NoError(t, errs[0])
	require.ErrorIs(t, errs[1], ledger.ErrDuplicateTransaction)

	requireAccount(t, e, 1, "20", "0", false)
}

func disputedWithdrawal() []event.Event {
	return []event.Event{
		event.Deposit(1, 1, amt("30.0")),
		event.Withdrawal(1, 2, amt("20.0")),
		event.Dispute(1, 2),
	}
}

func TestScenarioC_DisputeWithdrawal(t *testing.T) {
	e := newStartedEngine(t, 4)
	for _, err := range submitAll(t, e, disputedWithdrawal()...) {
		require.NoError(t, err)
	}

	acct := requireAccount(t, e, 1, "10", "20", false)
	assert.True(t, acct.Total().Equal(amt("30")))
}

func TestScenarioD_Resolve(t *testing.T) {
	e := newStartedEngine(t, 4)
	events := append(disputedWithdrawal(), event.Resolve(1, 2))
	for _, err := range submitAll(t, e, events...) {
		require.NoError(t, err)
	}

	acct := requireAccount(t, e, 1, "30", "0", false)
	assert.True(t, acct.Total().Equal(amt("30")))
}

func TestScenarioE_ChargebackLocksAccount(t *testing.T) {
	e := newStartedEngine(t, 4)
	events := append(disputedWithdrawal(),
		event.Chargeback(1, 2),
		event.Withdrawal(1, 3, amt("10.0")),
	)
	for _, err := range submitAll(t, e, events...) {
		require.NoError(t, err)
	}

	acct := requireAccount(t, e, 1, "10", "0", true)
	assert.True(t, acct.Total().Equal(amt("10")))
}

func TestLockedAccount_AcceptsDepositsRefusesWithdrawals(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	e := core.New(core.Config{Workers: 2, QueueCapacity: 64}, core.WithMetrics(m))
	require.NoError(t, e.StartWorkers())

	errs := submitAll(t, e,
		event.Deposit(1, 1, amt("30")),
		event.Withdrawal(1, 2, amt("20")),
		event.Dispute(1, 2),
		event.Chargeback(1, 2),
		event.Deposit(1, 3, amt("5")),
		event.Withdrawal(1, 4, amt("1")),
	)
	for _, err := range errs {
		require.NoError(t, err)
	}

	acct := requireAccount(t, e, 1, "15", "0", true)
	assert.True(t, acct.Total().Equal(amt("15")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsApplied.WithLabelValues("deposit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsIgnored.WithLabelValues("withdrawal", core.ReasonAccountLocked)))
}

func TestScenarioF_DisputeUnknownTx(t *testing.T) {
	e := newStartedEngine(t, 4)
	errs := submitAll(t, e,
		event.Deposit(1, 1, amt("5")),
		event.Dispute(1, 99),
	)
	require.NoError(t, errs[0])
	require.ErrorIs(t, errs[1], ledger.ErrUnknownTransaction)

	requireAccount(t, e, 1, "5", "0", false)
}

// ============================================================================
// Test: Business rules
// ============================================================================

func TestDisputeOnDeposit_IsNoOp(t *testing.T) {
	e := newStartedEngine(t, 2)
	errs := submitAll(t, e,
		event.Deposit(1, 1, amt("10")),
		event.Dispute(1, 1),
		event.Chargeback(1, 1),
	)
	for _, err := range errs {
		require.NoError(t, err, "the ledger records the lifecycle")
	}

	ds, _ := e.Ledger().DisputeState(1)
	assert.Equal(t, ledger.DisputeChargedBack, ds)
	requireAccount(t, e, 1, "10", "0", false)
}

func TestWithdrawal_InsufficientFundsIsNoOp(t *testing.T) {
	e := newStartedEngine(t, 2)
	errs := submitAll(t, e,
		event.Deposit(2, 1, amt("1.5")),
		event.Withdrawal(2, 2, amt("1.5001")),
	)
	require.NoError(t, errs[1], "insufficient funds is not a submission error")

	requireAccount(t, e, 2, "1.5", "0", false)
}

func TestWithdrawal_CreatesAccountEvenWhenIgnored(t *testing.T) {
	e := newStartedEngine(t, 2)
	submitAll(t, e, event.Withdrawal(3, 1, amt("1")))

	requireAccount(t, e, 3, "0", "0", false)
}

func TestMissingAmount_NoAccount(t *testing.T) {
	e := newStartedEngine(t, 2)
	errs := submitAll(t, e, event.Event{Kind: event.KindDeposit, Client: 4, Tx: 1})
	require.ErrorIs(t, errs[0], ledger.ErrMissingAmount)

	_, ok := e.Account(4)
	assert.False(t, ok)
}

func TestCrossClientDispute_Rejected(t *testing.T) {
	e := newStartedEngine(t, 2)
	errs := submitAll(t, e,
		event.Withdrawal(1, 1, amt("0")),
		event.Deposit(1, 2, amt("5")),
		event.Dispute(2, 2),
	)
	require.ErrorIs(t, errs[2], ledger.ErrUnknownTransaction)

	_, ok := e.Account(2)
	assert.False(t, ok, "forged dispute must not create an account")
}

func TestDisputeRestoresOverdrawnWithdrawal(t *testing.T) {
	// Disputing and resolving a spent withdrawal refunds it.
	e := newStartedEngine(t, 1)
	submitAll(t, e,
		event.Deposit(1, 1, amt("5")),
		event.Withdrawal(1, 2, amt("5")),
		event.Dispute(1, 2),
		event.Resolve(1, 2),
	)

	requireAccount(t, e, 1, "5", "0", false)
}

// ============================================================================
// Test: Lifecycle
// ============================================================================

func TestSubmitBeforeStart(t *testing.T) {
	e := core.New(core.DefaultConfig())
	assert.ErrorIs(t, e.SubmitEvent(event.Deposit(1, 1, amt("1"))), core.ErrEngineStopped)
}

func TestStartWorkersTwice(t *testing.T) {
	e := newStartedEngine(t, 2)
	assert.ErrorIs(t, e.StartWorkers(), core.ErrAlreadyStarted)
	require.NoError(t, e.Shutdown(context.Background()))
	assert.ErrorIs(t, e.StartWorkers(), core.ErrEngineStopped)
}

func TestSubmitAfterShutdown(t *testing.T) {
	e := newStartedEngine(t, 2)
	require.NoError(t, e.Shutdown(context.Background()))

	err := e.SubmitEvent(event.Deposit(1, 1, amt("1")))
	assert.ErrorIs(t, err, core.ErrEngineStopped)
	n, _ := e.Ledger().Len()
	assert.Zero(t, n, "rejected submission must not be recorded")
}

func TestShutdownIdempotent(t *testing.T) {
	e := newStartedEngine(t, 3)
	require.NoError(t, e.SubmitEvent(event.Deposit(1, 1, amt("1"))))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Shutdown(context.Background()))
		}()
	}
	wg.Wait()

	for _, w := range e.Workers() {
		assert.Equal(t, core.WorkerStopped, w.State())
	}
	requireAccount(t, e, 1, "1", "0", false)
}

func TestShutdownWithoutStart(t *testing.T) {
	e := core.New(core.DefaultConfig())
	require.NoError(t, e.Shutdown(context.Background()))
	select {
	case <-e.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestInvalidConfigFallsBackToDefaults(t *testing.T) {
	e := core.New(core.Config{Workers: -1, QueueCapacity: 0})
	require.NoError(t, e.StartWorkers())
	assert.Len(t, e.Workers(), core.DefaultWorkers)
	require.NoError(t, e.Shutdown(context.Background()))
}

// ============================================================================
// Test: Run
// ============================================================================

func TestRun_EndOfStreamShutsDown(t *testing.T) {
	e := core.New(core.Config{Workers: 2, QueueCapacity: 1})
	require.NoError(t, e.StartWorkers())

	msgs := make(chan event.StreamMessage)
	go func() {
		for i := 1; i <= 200; i++ {
			msgs <- event.Value(event.Deposit(event.ClientID(i%3), event.TxID(i), amt("1")))
		}
		msgs <- event.Value(event.Deposit(0, 1, amt("100"))) // duplicate, skipped
		msgs <- event.EndOfStream()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx, msgs))

	total := decimal.Zero
	for _, acct := range e.Accounts() {
		total = total.Add(acct.Total())
	}
	assert.True(t, total.Equal(amt("200")), "total = %s", total)
}

func TestRun_ClosedChannelShutsDown(t *testing.T) {
	e := newStartedEngine(t, 2)
	msgs := make(chan event.StreamMessage, 2)
	msgs <- event.Value(event.Deposit(1, 1, amt("2")))
	close(msgs)

	require.NoError(t, e.Run(context.Background(), msgs))
	requireAccount(t, e, 1, "2", "0", false)
}

func TestRun_CancelledContextDrains(t *testing.T) {
	e := newStartedEngine(t, 2)
	msgs := make(chan event.StreamMessage, 1)
	msgs <- event.Value(event.Deposit(1, 1, amt("2")))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := e.Run(ctx, msgs)
	assert.ErrorIs(t, err, context.Canceled)
	<-e.Done()
	requireAccount(t, e, 1, "2", "0", false)
}

// ============================================================================
// Test: Determinism and concurrency
// ============================================================================

func randomStream(seed int64, n int) []event.Event {
	r := rand.New(rand.NewSource(seed))
	events := make([]event.Event, 0, n)
	var txs []event.Event
	for i := 0; i < n; i++ {
		client := event.ClientID(r.Intn(20))
		tx := event.TxID(i + 1)
		value := decimal.New(int64(r.Intn(100000)), -4)

		switch p := r.Intn(10); {
		case p < 4:
			ev := event.Deposit(client, tx, value)
			events = append(events, ev)
		case p < 7:
			ev := event.Withdrawal(client, tx, value)
			events = append(events, ev)
			txs = append(txs, ev)
		case len(txs) > 0:
			target := txs[r.Intn(len(txs))]
			kinds := []func(event.ClientID, event.TxID) event.Event{event.Dispute, event.Resolve, event.Chargeback}
			events = append(events, kinds[r.Intn(len(kinds))](target.Client, target.Tx))
		}
	}
	return events
}

func TestDigest_IndependentOfWorkerCount(t *testing.T) {
	stream := randomStream(42, 5000)

	var want [32]byte
	for i, workers := range []int{1, 2, 4, 16} {
		e := newStartedEngine(t, workers)
		submitAll(t, e, stream...)
		require.NoError(t, state.ValidateChart(e.Chart()))

		got := e.Digest()
		if i == 0 {
			want = got
			continue
		}
		assert.Equal(t, fmt.Sprintf("%x", want), fmt.Sprintf("%x", got), "workers=%d", workers)
	}
}

func TestConcurrentProducers_DistinctClients(t *testing.T) {
	e := newStartedEngine(t, 4)
	const producers, perProducer = 8, 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(client event.ClientID) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				tx := event.TxID(int(client)*perProducer + i)
				for {
					err := e.SubmitEvent(event.Deposit(client, tx, amt("0.5")))
					if !errors.Is(err, core.ErrQueueFull) {
						assert.NoError(t, err)
						break
					}
					time.Sleep(time.Millisecond)
				}
			}
		}(event.ClientID(p))
	}
	wg.Wait()
	require.NoError(t, e.Shutdown(context.Background()))

	for p := 0; p < producers; p++ {
		requireAccount(t, e, event.ClientID(p), "100", "0", false)
	}
}

func TestMetrics_CountRejections(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	e := core.New(core.Config{Workers: 1, QueueCapacity: 8}, core.WithMetrics(m))
	require.NoError(t, e.StartWorkers())

	submitAll(t, e,
		event.Deposit(1, 1, amt("1")),
		event.Deposit(1, 1, amt("1")),
		event.Withdrawal(1, 2, amt("5")),
	)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRejected.WithLabelValues("deposit", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsApplied.WithLabelValues("deposit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsIgnored.WithLabelValues("withdrawal", core.ReasonInsufficientFunds)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Accounts))
}
