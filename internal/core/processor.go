package core

import (
	"PayLedger/internal/event"
	"PayLedger/internal/ledger"
	"PayLedger/internal/state"

	"github.com/shopspring/decimal"
)

// Reasons an event was processed without effect.
const (
	ReasonTxNotFound        = "transaction_not_found"
	ReasonAccountLocked     = "account_locked"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonNotDisputable     = "not_disputable"
)

// Outcome describes what processing an event did to the chart.
type Outcome struct {
	Applied bool
	Reason  string // set when Applied is false
	Account state.Account
}

func applied(acct state.Account) Outcome {
	return Outcome{Applied: true, Account: acct}
}

func ignored(reason string) Outcome {
	return Outcome{Reason: reason}
}

// EventProcessor applies recorded events to the account chart.
//
// The ledger is the source of truth for amounts: the processor re-reads every
// amount from the recorded transaction and never trusts the live event. The
// dispute lifecycle has already been validated by the ledger at submission
// time, so the processor does not check it again.
//
// Disputes, resolves and chargebacks only act on withdrawals. Against a
// deposit they are recorded in the ledger history but leave the account
// untouched.
type EventProcessor struct {
	ledger *ledger.Ledger
	chart  *state.Chart
}

// NewEventProcessor creates a processor over a shared ledger and chart.
func NewEventProcessor(l *ledger.Ledger, c *state.Chart) *EventProcessor {
	return &EventProcessor{ledger: l, chart: c}
}

// Process applies ev to the chart.
func (p *EventProcessor) Process(ev event.Event) Outcome {
	switch ev.Kind {
	case event.KindDeposit:
		return p.handleDeposit(ev)
	case event.KindWithdrawal:
		return p.handleWithdrawal(ev)
	case event.KindDispute:
		return p.handleDisputeFamily(ev, (*state.Account).Hold)
	case event.KindResolve:
		return p.handleDisputeFamily(ev, (*state.Account).Resolve)
	case event.KindChargeback:
		return p.handleDisputeFamily(ev, (*state.Account).Reject)
	default:
		return ignored(ReasonTxNotFound)
	}
}

func (p *EventProcessor) handleDeposit(ev event.Event) Outcome {
	amount, ok := p.amountOf(ev, event.KindDeposit)
	if !ok {
		return ignored(ReasonTxNotFound)
	}
	acct := p.chart.Update(ev.Client, func(a *state.Account) {
		a.Deposit(amount)
	})
	return applied(acct)
}

func (p *EventProcessor) handleWithdrawal(ev event.Event) Outcome {
	amount, ok := p.amountOf(ev, event.KindWithdrawal)
	if !ok {
		return ignored(ReasonTxNotFound)
	}

	// The sufficiency check and the debit share one critical section.
	var outcome Outcome
	p.chart.Update(ev.Client, func(a *state.Account) {
		switch {
		case a.Locked:
			outcome = ignored(ReasonAccountLocked)
		case !a.CanWithdraw(amount):
			outcome = ignored(ReasonInsufficientFunds)
		default:
			a.Withdraw(amount)
			outcome = applied(*a)
		}
	})
	return outcome
}

func (p *EventProcessor) handleDisputeFamily(ev event.Event, apply func(*state.Account, decimal.Decimal)) Outcome {
	amount, ok := p.amountOf(ev, event.KindWithdrawal)
	if !ok {
		if _, exists := p.ledger.FetchTransaction(ev.Tx, ev.Client); exists {
			return ignored(ReasonNotDisputable)
		}
		return ignored(ReasonTxNotFound)
	}
	acct := p.chart.Update(ev.Client, func(a *state.Account) {
		apply(a, amount)
	})
	return applied(acct)
}

// amountOf returns the recorded amount of ev.Tx if it belongs to ev.Client
// and is of the given kind.
func (p *EventProcessor) amountOf(ev event.Event, kind event.Kind) (decimal.Decimal, bool) {
	tx, ok := p.ledger.FetchTransaction(ev.Tx, ev.Client)
	if !ok || tx.Kind != kind {
		return decimal.Decimal{}, false
	}
	return tx.Amount, true
}
