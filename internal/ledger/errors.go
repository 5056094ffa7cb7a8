package ledger

import "errors"

var (
	// ErrDuplicateTransaction is returned when a deposit or withdrawal reuses a tx id.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrMissingAmount is returned when a deposit or withdrawal has no usable amount.
	ErrMissingAmount = errors.New("missing or invalid amount")

	// ErrUnknownTransaction is returned when a dispute-family event references a tx id
	// that was never recorded or that belongs to another client.
	ErrUnknownTransaction = errors.New("unknown transaction")

	// ErrInvalidTransition is returned when a dispute-family event violates the dispute lifecycle.
	ErrInvalidTransition = errors.New("invalid dispute transition")

	// ErrUnsupportedEvent is returned for events with an unknown kind.
	ErrUnsupportedEvent = errors.New("unsupported event kind")
)
