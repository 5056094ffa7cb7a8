package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"PayLedger/internal/event"

	"github.com/shopspring/decimal"
)

// ErrMalformedRecord is wrapped by every parse failure.
var ErrMalformedRecord = errors.New("malformed event record")

// --- Wire formats ---
// CSV columns and JSON fields share names: type, client, tx, amount.

type eventJSON struct {
	Type   string              `json:"type"`
	Client uint16              `json:"client"`
	Tx     uint32              `json:"tx"`
	Amount decimal.NullDecimal `json:"amount"`
}

// ParseRecord converts the fields of one CSV row, in header order
// type, client, tx[, amount], into an event. Fields are trimmed. A deposit or
// withdrawal without an amount parses fine; the ledger rejects it later.
func ParseRecord(fields []string) (event.Event, error) {
	if len(fields) < 3 {
		return event.Event{}, fmt.Errorf("%w: expected at least 3 fields, got %d", ErrMalformedRecord, len(fields))
	}

	kind, err := event.ParseKind(fields[0])
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	client, err := parseUint(fields[1], math.MaxUint16)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: client: %v", ErrMalformedRecord, err)
	}

	tx, err := parseUint(fields[2], math.MaxUint32)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: tx: %v", ErrMalformedRecord, err)
	}

	ev := event.Event{Kind: kind, Client: event.ClientID(client), Tx: event.TxID(tx)}

	if len(fields) > 3 {
		if raw := strings.TrimSpace(fields[3]); raw != "" {
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				return event.Event{}, fmt.Errorf("%w: amount %q: %v", ErrMalformedRecord, raw, err)
			}
			ev.Amount = decimal.NewNullDecimal(amount)
		}
	}

	return ev, nil
}

// ParseJSON decodes one JSON-encoded event, e.g.
// {"type":"deposit","client":1,"tx":1,"amount":"1.5"}.
func ParseJSON(data []byte) (event.Event, error) {
	var wire eventJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	kind, err := event.ParseKind(wire.Type)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	return event.Event{
		Kind:   kind,
		Client: event.ClientID(wire.Client),
		Tx:     event.TxID(wire.Tx),
		Amount: wire.Amount,
	}, nil
}

// EncodeJSON is the inverse of ParseJSON. Producers and tests use it to
// publish events.
func EncodeJSON(ev event.Event) ([]byte, error) {
	return json.Marshal(eventJSON{
		Type:   ev.Kind.String(),
		Client: uint16(ev.Client),
		Tx:     uint32(ev.Tx),
		Amount: ev.Amount,
	})
}

func parseUint(s string, max uint64) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if v > max {
		return 0, fmt.Errorf("%d out of range (max %d)", v, max)
	}
	return v, nil
}
