package event

import (
	"fmt"
	"strings"
)

// Kind discriminates the five event types a client stream can carry.
type Kind int32

const (
	KindUnknown Kind = iota
	KindDeposit
	KindWithdrawal
	KindDispute
	KindResolve
	KindChargeback
)

func (k Kind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindWithdrawal:
		return "withdrawal"
	case KindDispute:
		return "dispute"
	case KindResolve:
		return "resolve"
	case KindChargeback:
		return "chargeback"
	default:
		return "unknown"
	}
}

// IsTransaction reports whether the kind creates a ledger transaction.
func (k Kind) IsTransaction() bool {
	return k == KindDeposit || k == KindWithdrawal
}

// IsDispute reports whether the kind belongs to the dispute lifecycle.
func (k Kind) IsDispute() bool {
	return k == KindDispute || k == KindResolve || k == KindChargeback
}

// ParseKind maps a wire name to a Kind. Matching ignores case and surrounding spaces.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deposit":
		return KindDeposit, nil
	case "withdrawal":
		return KindWithdrawal, nil
	case "dispute":
		return KindDispute, nil
	case "resolve":
		return KindResolve, nil
	case "chargeback":
		return KindChargeback, nil
	default:
		return KindUnknown, fmt.Errorf("unknown event type %q", s)
	}
}
