package postgres

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

func TestDSN(t *testing.T) {
	require.Equal(t, "postgres://u:p@db:5432/payments?sslmode=disable", DSN(ClientConfig{
		Host: "db", Database: "payments", User: "u", Password: "p",
	}))
	require.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "listings_asset_id_key"})
	require.True(t, isUniqueViolation(dup))
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, isUniqueViolation(errors.New("conn reset")))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	data, err := migrationsFS.ReadFile("migrations/" + entries[0].Name())
	require.NoError(t, err)
	require.Contains(t, string(data), "CREATE UNIQUE INDEX IF NOT EXISTS listings_asset_id_key")
}

func TestPage(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	q, args := page(`SELECT id FROM sales WHERE asset_id = $1`, []any{"42"},
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20}, "id DESC")
	require.Equal(t, `SELECT id FROM sales WHERE asset_id = $1 AND created_at >= $2 ORDER BY id DESC LIMIT $3 OFFSET $4`, q)
	require.Equal(t, []any{"42", since, 10, 20}, args)

	q, args = page(`SELECT id FROM audit_log WHERE 1=1`, nil, domain.ListOpts{}, "id DESC")
	require.Equal(t, `SELECT id FROM audit_log WHERE 1=1 ORDER BY id DESC`, q)
	require.Empty(t, args)
}
