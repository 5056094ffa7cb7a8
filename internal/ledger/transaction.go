package ledger

import (
	"PayLedger/internal/event"

	"github.com/shopspring/decimal"
)

// Transaction is the recorded original of a deposit or withdrawal.
type Transaction struct {
	Kind   event.Kind
	Amount decimal.Decimal
	Client event.ClientID
}

// DisputeEvent is one step in a transaction's dispute history.
type DisputeEvent uint8

const (
	// DisputeNone is the state of a transaction that was never disputed.
	DisputeNone DisputeEvent = iota
	DisputeOpened
	DisputeResolved
	DisputeChargedBack
)

func (d DisputeEvent) String() string {
	switch d {
	case DisputeNone:
		return "none"
	case DisputeOpened:
		return "dispute"
	case DisputeResolved:
		return "resolve"
	case DisputeChargedBack:
		return "chargeback"
	default:
		return "unknown"
	}
}

// disputeEventFor maps a dispute-family event kind to its history entry.
func disputeEventFor(kind event.Kind) (DisputeEvent, bool) {
	switch kind {
	case event.KindDispute:
		return DisputeOpened, true
	case event.KindResolve:
		return DisputeResolved, true
	case event.KindChargeback:
		return DisputeChargedBack, true
	default:
		return DisputeNone, false
	}
}

// CanTransition reports whether a transaction whose current dispute state is
// from may move to next. The only legal paths are none -> dispute and
// dispute -> resolve | chargeback; resolved and charged-back are terminal.
func CanTransition(from, next DisputeEvent) bool {
	switch from {
	case DisputeNone:
		return next == DisputeOpened
	case DisputeOpened:
		return next == DisputeResolved || next == DisputeChargedBack
	default:
		return false
	}
}
