package state

import (
	"errors"
	"fmt"
)

// ErrInvariantViolated is wrapped by every error returned from the validators.
var ErrInvariantViolated = errors.New("account invariant violated")

// ValidateAccount checks the invariants that must hold for any account after
// an event has been applied: held funds never go negative.
//
// Available is allowed to go negative: a dispute against a withdrawal that was
// already spent can push it below zero.
func ValidateAccount(a Account) error {
	if a.Held.IsNegative() {
		return fmt.Errorf("%w: client %d held %s < 0", ErrInvariantViolated, a.Client, a.Held)
	}
	return nil
}

// ValidateChart runs ValidateAccount over every account and joins the failures.
func ValidateChart(c *Chart) error {
	var errs []error
	for _, acct := range c.Accounts() {
		if err := ValidateAccount(acct); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
