package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PayLedger/internal/observability"
	"PayLedger/internal/state"

	"github.com/google/uuid"
)

// DefaultBatchSize keeps a single INSERT well under Postgres's 65535
// bind-parameter limit at six columns per row.
const DefaultBatchSize = 1000

const accountColumns = 6

// AccountWriter exports the final account table of a run to
// payledger.accounts. The engine never reads it back.
type AccountWriter struct {
	db        *sql.DB
	batchSize int
	metrics   *observability.Metrics
}

// AccountRow is one row of payledger.accounts.
type AccountRow struct {
	RunID     uuid.UUID
	Client    uint16
	Available string
	Held      string
	Total     string
	Locked    bool
}

// NewAccountWriter creates a writer. A non-positive batchSize uses
// DefaultBatchSize; metrics may be nil.
func NewAccountWriter(db *sql.DB, batchSize int, metrics *observability.Metrics) *AccountWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &AccountWriter{db: db, batchSize: batchSize, metrics: metrics}
}

// RowsFor converts accounts to rows tagged with runID. Amounts keep their
// full precision; the NUMERIC columns hold them exactly.
func RowsFor(runID uuid.UUID, accounts []state.Account) []AccountRow {
	rows := make([]AccountRow, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, AccountRow{
			RunID:     runID,
			Client:    uint16(a.Client),
			Available: a.Available.String(),
			Held:      a.Held.String(),
			Total:     a.Total().String(),
			Locked:    a.Locked,
		})
	}
	return rows
}

// WriteAccounts upserts every account in one transaction. Re-running with
// the same runID overwrites the earlier rows.
func (w *AccountWriter) WriteAccounts(ctx context.Context, runID uuid.UUID, accounts []state.Account) (err error) {
	if len(accounts) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		if w.metrics == nil {
			return
		}
		w.metrics.PersistDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			w.metrics.PersistErrors.Inc()
		}
	}()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows := RowsFor(runID, accounts)
	for lo := 0; lo < len(rows); lo += w.batchSize {
		hi := min(lo+w.batchSize, len(rows))
		query, args := upsertQuery(rows[lo:hi])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert accounts %d-%d: %w", lo, hi, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}
	return nil
}

// upsertQuery builds a multi-row INSERT ... ON CONFLICT for rows.
func upsertQuery(rows []AccountRow) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`INSERT INTO payledger.accounts
		(run_id, client, available, held, total, locked)
		VALUES `)

	args := make([]interface{}, 0, len(rows)*accountColumns)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * accountColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, r.RunID.String(), int32(r.Client), r.Available, r.Held, r.Total, r.Locked)
	}

	b.WriteString(` ON CONFLICT (run_id, client) DO UPDATE SET
		available = EXCLUDED.available,
		held = EXCLUDED.held,
		total = EXCLUDED.total,
		locked = EXCLUDED.locked,
		updated_at = NOW()`)
	return b.String(), args
}

// LoadAccounts returns the rows stored for runID ordered by client.
func (w *AccountWriter) LoadAccounts(ctx context.Context, runID uuid.UUID) ([]AccountRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT client, available::TEXT, held::TEXT, total::TEXT, locked
		FROM payledger.accounts
		WHERE run_id = $1
		ORDER BY client`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []AccountRow
	for rows.Next() {
		r := AccountRow{RunID: runID}
		var client int32
		if err := rows.Scan(&client, &r.Available, &r.Held, &r.Total, &r.Locked); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		r.Client = uint16(client)
		out = append(out, r)
	}
	return out, rows.Err()
}
