package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `SELECT id FROM customers WHERE name = ? AND LOWER(email) LIKE ? ESCAPE '\' AND note <> '?' AND visit_count > ?`

	assert.Equal(t, q, Rebind(SQLite, q))
	assert.Equal(t,
		`SELECT id FROM customers WHERE name = $1 AND LOWER(email) LIKE $2 ESCAPE '\' AND note <> '?' AND visit_count > $3`,
		Rebind(Postgres, q))
}

func TestOpenSQLite_MigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "crm.db")

	d, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Migrate(ctx))

	for _, table := range []string{"customers", "campaigns", "communication_logs"} {
		var name string
		err := d.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Dialect("mysql"), "")
	assert.Error(t, err)
}

func TestMillisRoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 4, 3, 2, 1, 987_000_000, time.FixedZone("X", 3600))
	assert.True(t, at.Equal(FromMillis(ToMillis(at))))
	assert.Nil(t, TimePtr(NullMillis(nil)))
	assert.True(t, at.Equal(*TimePtr(NullMillis(&at))))
}
