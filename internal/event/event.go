// Package event defines the client events consumed by the engine and the
// stream envelope used to hand them over from a source.
package event

import (
	"github.com/shopspring/decimal"
)

// ClientID identifies a client account.
type ClientID uint16

// TxID identifies a transaction. Dispute-family events reference the TxID of
// the deposit or withdrawal they act on.
type TxID uint32

// Event is a single immutable client event.
type Event struct {
	Kind   Kind
	Client ClientID
	Tx     TxID

	// Amount is only meaningful for deposits and withdrawals.
	Amount decimal.NullDecimal
}

// Deposit builds a deposit event.
func Deposit(client ClientID, tx TxID, amount decimal.Decimal) Event {
	return Event{Kind: KindDeposit, Client: client, Tx: tx, Amount: decimal.NewNullDecimal(amount)}
}

// Withdrawal builds a withdrawal event.
func Withdrawal(client ClientID, tx TxID, amount decimal.Decimal) Event {
	return Event{Kind: KindWithdrawal, Client: client, Tx: tx, Amount: decimal.NewNullDecimal(amount)}
}

// Dispute builds a dispute event against tx.
func Dispute(client ClientID, tx TxID) Event {
	return Event{Kind: KindDispute, Client: client, Tx: tx}
}

// Resolve builds a resolve event against tx.
func Resolve(client ClientID, tx TxID) Event {
	return Event{Kind: KindResolve, Client: client, Tx: tx}
}

// Chargeback builds a chargeback event against tx.
func Chargeback(client ClientID, tx TxID) Event {
	return Event{Kind: KindChargeback, Client: client, Tx: tx}
}

// StreamMessage is the element type of the channel between a source and the engine.
// A message with EndOfStream set carries no event and means no more input will arrive.
type StreamMessage struct {
	Event       Event
	EndOfStream bool
}

// Value wraps an event for the stream.
func Value(ev Event) StreamMessage {
	return StreamMessage{Event: ev}
}

// EndOfStream returns the terminal stream sentinel.
func EndOfStream() StreamMessage {
	return StreamMessage{EndOfStream: true}
}
