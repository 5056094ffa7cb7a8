// internal/state/account.go
package state

import (
	"encoding/binary"

	"PayLedger/internal/event"

	"github.com/shopspring/decimal"
)

// Account is a client's balance sheet.
//
// The mutation primitives never check preconditions; callers decide whether a
// mutation is allowed (see CanWithdraw).
type Account struct {
	Client    event.ClientID
	Available decimal.Decimal
	Held      decimal.Decimal
	Locked    bool
}

// NewAccount returns a zeroed, unlocked account for client.
func NewAccount(client event.ClientID) Account {
	return Account{
		Client:    client,
		Available: decimal.Zero,
		Held:      decimal.Zero,
	}
}

// Total returns available + held. It is always derived, never stored.
func (a *Account) Total() decimal.Decimal {
	return a.Available.Add(a.Held)
}

// Deposit credits available funds.
func (a *Account) Deposit(amount decimal.Decimal) {
	a.Available = a.Available.Add(amount)
}

// Withdraw debits available funds.
func (a *Account) Withdraw(amount decimal.Decimal) {
	a.Available = a.Available.Sub(amount)
}

// Hold moves funds under dispute into held.
func (a *Account) Hold(amount decimal.Decimal) {
	a.Held = a.Held.Add(amount)
}

// Resolve releases held funds back to available.
func (a *Account) Resolve(amount decimal.Decimal) {
	a.Held = a.Held.Sub(amount)
	a.Available = a.Available.Add(amount)
}

// Reject drops held funds and freezes the account.
func (a *Account) Reject(amount decimal.Decimal) {
	a.Held = a.Held.Sub(amount)
	a.Locked = true
}

// CanWithdraw reports whether a withdrawal of amount may be applied.
func (a *Account) CanWithdraw(amount decimal.Decimal) bool {
	return !a.Locked && a.Available.GreaterThanOrEqual(amount)
}

// CanonicalBytes for deterministic hashing
func (a *Account) CanonicalBytes() []byte {
	buf := make([]byte, 0, 48)

	// client (2 bytes LE)
	buf = append(buf, byte(a.Client), byte(a.Client>>8))

	// available, held (uvarint length-prefixed exact decimal strings)
	buf = appendDecimal(buf, a.Available)
	buf = appendDecimal(buf, a.Held)

	// locked (1 byte)
	if a.Locked {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	return buf
}

func appendDecimal(buf []byte, d decimal.Decimal) []byte {
	s := d.String()
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}
