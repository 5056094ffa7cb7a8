// Package report renders the final account chart.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"PayLedger/internal/state"
)

// Scale is the number of decimal places in rendered amounts.
const Scale = 4

// Header is the CSV column order.
var Header = []string{"client", "available", "held", "total", "locked"}

// Record is the rendered form of one account. Amounts are fixed-point strings
// so that no float conversion ever touches them.
type Record struct {
	Client    uint16 `json:"client"`
	Available string `json:"available"`
	Held      string `json:"held"`
	Total     string `json:"total"`
	Locked    bool   `json:"locked"`
}

// FromAccount renders an account. Available and held are rounded half away
// from zero to Scale places, and total is the sum of the rounded values so
// that the printed columns always add up.
func FromAccount(a state.Account) Record {
	available := a.Available.Round(Scale)
	held := a.Held.Round(Scale)
	return Record{
		Client:    uint16(a.Client),
		Available: available.StringFixed(Scale),
		Held:      held.StringFixed(Scale),
		Total:     available.Add(held).StringFixed(Scale),
		Locked:    a.Locked,
	}
}

// FromAccounts renders accounts in the given order.
func FromAccounts(accounts []state.Account) []Record {
	out := make([]Record, len(accounts))
	for i, a := range accounts {
		out[i] = FromAccount(a)
	}
	return out
}

func (r Record) fields() []string {
	return []string{
		strconv.FormatUint(uint64(r.Client), 10),
		r.Available,
		r.Held,
		r.Total,
		strconv.FormatBool(r.Locked),
	}
}

// WriteCSV writes a header row followed by one row per account.
func WriteCSV(w io.Writer, accounts []state.Account) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, a := range accounts {
		if err := cw.Write(FromAccount(a).fields()); err != nil {
			return fmt.Errorf("write client %d: %w", a.Client, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteJSON writes the accounts as an indented JSON array.
func WriteJSON(w io.Writer, accounts []state.Account) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(FromAccounts(accounts)); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// Write renders accounts in the named format ("csv" or "json").
func Write(w io.Writer, format string, accounts []state.Account) error {
	switch format {
	case "csv", "":
		return WriteCSV(w, accounts)
	case "json":
		return WriteJSON(w, accounts)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
