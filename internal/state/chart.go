package state

import (
	"sort"

	"PayLedger/internal/event"
	"PayLedger/internal/shardmap"
)

// Chart is the concurrent map of client accounts.
//
// Accounts are stored by value; every read returns a copy. Update is the only
// way to mutate an account and runs under the account's stripe lock, so a
// lookup-or-create followed by a check-and-mutate is a single atomic step.
type Chart struct {
	accounts *shardmap.Map[event.ClientID, Account]
}

// NewChart creates an empty chart.
func NewChart() *Chart {
	return &Chart{
		accounts: shardmap.New[event.ClientID, Account](shardmap.DefaultStripes),
	}
}

// Update applies fn to the account of client, creating a zeroed account first
// if none exists. It returns the account as stored after fn.
func (c *Chart) Update(client event.ClientID, fn func(acct *Account)) Account {
	var result Account
	// fn cannot fail, so the error is always nil.
	_ = c.accounts.Update(client, func(current Account, exists bool) (Account, error) {
		if !exists {
			current = NewAccount(client)
		}
		fn(&current)
		result = current
		return current, nil
	})
	return result
}

// Get returns a copy of the account for client.
func (c *Chart) Get(client event.ClientID) (Account, bool) {
	return c.accounts.Load(client)
}

// Len returns the number of accounts.
func (c *Chart) Len() int {
	return c.accounts.Len()
}

// Accounts returns a copy of every account, ordered by client id.
func (c *Chart) Accounts() []Account {
	out := make([]Account, 0, c.accounts.Len())
	c.accounts.Range(func(_ event.ClientID, acct Account) bool {
		out = append(out, acct)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Client < out[j].Client
	})
	return out
}
