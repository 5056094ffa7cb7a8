package query

import (
	"encoding/hex"
	"errors"

	"PayLedger/internal/event"
	"PayLedger/internal/ledger"
	"PayLedger/internal/report"
	"PayLedger/internal/state"
)

// ErrNotFound is returned for an unknown client or transaction.
var ErrNotFound = errors.New("not found")

// QueryService provides read-only views over the live chart and ledger.
// Reads taken while workers are running reflect whatever has been applied so
// far; the digest identifies the exact state a response was built from.
type QueryService struct {
	chart  *state.Chart
	ledger *ledger.Ledger
}

func NewQueryService(chart *state.Chart, l *ledger.Ledger) *QueryService {
	return &QueryService{chart: chart, ledger: l}
}

// ListAccounts returns every account, or only frozen ones when lockedOnly is set.
func (qs *QueryService) ListAccounts(lockedOnly bool) AccountsResponse {
	accounts := qs.chart.Accounts()
	if lockedOnly {
		filtered := accounts[:0]
		for _, a := range accounts {
			if a.Locked {
				filtered = append(filtered, a)
			}
		}
		accounts = filtered
	}
	return AccountsResponse{
		Accounts: report.FromAccounts(accounts),
		Count:    len(accounts),
		Digest:   qs.digest(),
	}
}

// GetAccount returns one client's account.
func (qs *QueryService) GetAccount(client event.ClientID) (AccountResponse, error) {
	acct, ok := qs.chart.Get(client)
	if !ok {
		return AccountResponse{}, ErrNotFound
	}
	return AccountResponse{Record: report.FromAccount(acct)}, nil
}

// GetTransaction returns a recorded deposit or withdrawal with its dispute history.
func (qs *QueryService) GetTransaction(tx event.TxID) (TransactionResponse, error) {
	t, ok := qs.ledger.Lookup(tx)
	if !ok {
		return TransactionResponse{}, ErrNotFound
	}

	current, _ := qs.ledger.DisputeState(tx)
	history := qs.ledger.History(tx)
	names := make([]string, 0, len(history))
	for _, h := range history {
		names = append(names, h.String())
	}

	return TransactionResponse{
		Tx:           uint32(tx),
		Client:       uint16(t.Client),
		Type:         t.Kind.String(),
		Amount:       t.Amount.StringFixed(report.Scale),
		DisputeState: current.String(),
		History:      names,
	}, nil
}

// Stats returns counts over the chart and ledger.
func (qs *QueryService) Stats() StatsResponse {
	accounts := qs.chart.Accounts()
	locked := 0
	for _, a := range accounts {
		if a.Locked {
			locked++
		}
	}
	transactions, disputed := qs.ledger.Len()
	return StatsResponse{
		Accounts:       len(accounts),
		LockedAccounts: locked,
		Transactions:   transactions,
		Disputed:       disputed,
		Digest:         qs.digest(),
	}
}

func (qs *QueryService) digest() string {
	sum := state.Digest(qs.chart)
	return hex.EncodeToString(sum[:])
}
