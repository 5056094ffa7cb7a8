package persistence

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"PayLedger/internal/state"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, "000001", extractVersion("000001_accounts.up.sql"))
	assert.Equal(t, "000002", extractVersion("000002_add_index_on_client.down.sql"))
	assert.Equal(t, "noversion.sql", extractVersion("noversion.sql"))
}

func TestListMigrationFiles_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_b.up.sql", "000001_a.up.sql", "000001_a.down.sql", "README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "000003_dir.up.sql"), 0o755))

	files, err := listMigrationFiles(dir, ".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_a.up.sql", "000002_b.up.sql"}, files)
}

func TestRowsFor(t *testing.T) {
	run := uuid.New()
	a := state.NewAccount(7)
	a.Deposit(decimal.RequireFromString("10.12345"))
	a.Hold(decimal.RequireFromString("0.5"))
	a.Reject(decimal.Zero)

	rows := RowsFor(run, []state.Account{a})
	require.Len(t, rows, 1)
	assert.Equal(t, AccountRow{
		RunID:     run,
		Client:    7,
		Available: "10.12345",
		Held:      "0.5",
		Total:     "10.62345",
		Locked:    true,
	}, rows[0])
}

func TestUpsertQuery_Placeholders(t *testing.T) {
	run := uuid.New()
	rows := []AccountRow{
		{RunID: run, Client: 1, Available: "1", Held: "0", Total: "1"},
		{RunID: run, Client: 2, Available: "2", Held: "0", Total: "2", Locked: true},
	}

	query, args := upsertQuery(rows)
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6), ($7, $8, $9, $10, $11, $12)")
	assert.Contains(t, query, "ON CONFLICT (run_id, client) DO UPDATE")
	assert.Equal(t, 1, strings.Count(query, "VALUES"))
	require.Len(t, args, 12)
	assert.Equal(t, run.String(), args[0])
	assert.Equal(t, int32(2), args[7])
	assert.Equal(t, true, args[11])
}
