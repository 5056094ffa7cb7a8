// Package ledger records the original deposits and withdrawals and the dispute
// history attached to each of them.
//
// The ledger is append-only: a transaction is written once per tx id and never
// changed, and dispute histories only grow. It is safe for concurrent use.
package ledger

import (
	"fmt"

	"PayLedger/internal/event"
	"PayLedger/internal/shardmap"
)

// Ledger is the source of truth for transaction amounts and dispute states.
type Ledger struct {
	transactions *shardmap.Map[event.TxID, Transaction]
	disputes     *shardmap.Map[event.TxID, []DisputeEvent]
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		transactions: shardmap.New[event.TxID, Transaction](shardmap.DefaultStripes),
		disputes:     shardmap.New[event.TxID, []DisputeEvent](shardmap.DefaultStripes),
	}
}

// Record validates ev against the ledger and, on success, appends it.
//
// Deposits and withdrawals create a transaction; dispute-family events append
// to the referenced transaction's dispute history. A rejected event leaves the
// ledger unchanged. Returned errors wrap one of the package sentinels.
func (l *Ledger) Record(ev event.Event) error {
	switch {
	case ev.Kind.IsTransaction():
		return l.recordTransaction(ev)
	case ev.Kind.IsDispute():
		return l.recordDispute(ev)
	default:
		return fmt.Errorf("%w: %s (tx %d)", ErrUnsupportedEvent, ev.Kind, ev.Tx)
	}
}

func (l *Ledger) recordTransaction(ev event.Event) error {
	if _, exists := l.transactions.Load(ev.Tx); exists {
		return fmt.Errorf("%w: tx %d", ErrDuplicateTransaction, ev.Tx)
	}

	if !ev.Amount.Valid || ev.Amount.Decimal.IsNegative() {
		return fmt.Errorf("%w: tx %d", ErrMissingAmount, ev.Tx)
	}

	tx := Transaction{
		Kind:   ev.Kind,
		Amount: ev.Amount.Decimal,
		Client: ev.Client,
	}

	// A concurrent writer may have claimed the id since the check above.
	if _, loaded := l.transactions.LoadOrStore(ev.Tx, tx); loaded {
		return fmt.Errorf("%w: tx %d", ErrDuplicateTransaction, ev.Tx)
	}
	return nil
}

func (l *Ledger) recordDispute(ev event.Event) error {
	if _, ok := l.FetchTransaction(ev.Tx, ev.Client); !ok {
		return fmt.Errorf("%w: tx %d for client %d", ErrUnknownTransaction, ev.Tx, ev.Client)
	}

	next, ok := disputeEventFor(ev.Kind)
	if !ok {
		return fmt.Errorf("%w: %s (tx %d)", ErrUnsupportedEvent, ev.Kind, ev.Tx)
	}

	return l.disputes.Update(ev.Tx, func(history []DisputeEvent, _ bool) ([]DisputeEvent, error) {
		current := lastOf(history)
		if !CanTransition(current, next) {
			return nil, fmt.Errorf("%w: tx %d %s -> %s", ErrInvalidTransition, ev.Tx, current, next)
		}

		// Copy so slices handed out by History never observe later appends.
		grown := make([]DisputeEvent, len(history)+1)
		copy(grown, history)
		grown[len(history)] = next
		return grown, nil
	})
}

// FetchTransaction returns the transaction recorded under tx only if it belongs
// to client. A mismatching client is indistinguishable from a missing tx.
func (l *Ledger) FetchTransaction(tx event.TxID, client event.ClientID) (Transaction, bool) {
	t, ok := l.transactions.Load(tx)
	if !ok || t.Client != client {
		return Transaction{}, false
	}
	return t, true
}

// Lookup returns the transaction recorded under tx regardless of client.
func (l *Ledger) Lookup(tx event.TxID) (Transaction, bool) {
	return l.transactions.Load(tx)
}

// DisputeState returns the latest dispute event for tx. The flag is false when
// tx has never been disputed, in which case the state is DisputeNone.
func (l *Ledger) DisputeState(tx event.TxID) (DisputeEvent, bool) {
	history, ok := l.disputes.Load(tx)
	return lastOf(history), ok && len(history) > 0
}

// History returns a copy of the dispute history for tx in arrival order.
func (l *Ledger) History(tx event.TxID) []DisputeEvent {
	history, ok := l.disputes.Load(tx)
	if !ok {
		return nil
	}
	out := make([]DisputeEvent, len(history))
	copy(out, history)
	return out
}

// Len returns the number of recorded transactions and of transactions with a
// non-empty dispute history.
func (l *Ledger) Len() (transactions, disputed int) {
	return l.transactions.Len(), l.disputes.Len()
}

func lastOf(history []DisputeEvent) DisputeEvent {
	if len(history) == 0 {
		return DisputeNone
	}
	return history[len(history)-1]
}
