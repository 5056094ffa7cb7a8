package query_test

import (
	"testing"

	"PayLedger/internal/core"
	"PayLedger/internal/event"
	"PayLedger/internal/ledger"
	"PayLedger/internal/query"
	"PayLedger/internal/state"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seeded builds a service over a ledger and chart fed through the processor.
func seeded(t *testing.T) *query.QueryService {
	t.Helper()
	l := ledger.New()
	c := state.NewChart()
	p := core.NewEventProcessor(l, c)

	for _, ev := range []event.Event{
		event.Deposit(1, 1, decimal.RequireFromString("10")),
		event.Withdrawal(1, 2, decimal.RequireFromString("4")),
		event.Dispute(1, 2),
		event.Chargeback(1, 2),
		event.Deposit(2, 3, decimal.RequireFromString("1.25")),
	} {
		require.NoError(t, l.Record(ev))
		p.Process(ev)
	}
	return query.NewQueryService(c, l)
}

func TestListAccounts(t *testing.T) {
	qs := seeded(t)

	all := qs.ListAccounts(false)
	require.Equal(t, 2, all.Count)
	assert.Equal(t, uint16(1), all.Accounts[0].Client)
	assert.Equal(t, uint16(2), all.Accounts[1].Client)
	assert.Len(t, all.Digest, 64)

	locked := qs.ListAccounts(true)
	require.Equal(t, 1, locked.Count)
	assert.Equal(t, uint16(1), locked.Accounts[0].Client)
	assert.Equal(t, all.Digest, locked.Digest, "filtering must not change the digest")
}

func TestGetAccount(t *testing.T) {
	qs := seeded(t)

	resp, err := qs.GetAccount(2)
	require.NoError(t, err)
	assert.Equal(t, "1.2500", resp.Available)
	assert.False(t, resp.Locked)

	_, err = qs.GetAccount(99)
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestGetTransaction(t *testing.T) {
	qs := seeded(t)

	tx, err := qs.GetTransaction(2)
	require.NoError(t, err)
	assert.Equal(t, "withdrawal", tx.Type)
	assert.Equal(t, "4.0000", tx.Amount)
	assert.Equal(t, "chargeback", tx.DisputeState)
	assert.Equal(t, []string{"dispute", "chargeback"}, tx.History)

	undisputed, err := qs.GetTransaction(3)
	require.NoError(t, err)
	assert.Equal(t, "none", undisputed.DisputeState)
	assert.Empty(t, undisputed.History)

	_, err = qs.GetTransaction(404)
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestStats(t *testing.T) {
	stats := seeded(t).Stats()
	assert.Equal(t, 2, stats.Accounts)
	assert.Equal(t, 1, stats.LockedAccounts)
	assert.Equal(t, 3, stats.Transactions)
	assert.Equal(t, 1, stats.Disputed)
}
