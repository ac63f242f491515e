// Package pgtest connects tests to the database named by TEST_DATABASE and skips them when
// it is unset.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// ConnString returns TEST_DATABASE or skips the test.
func ConnString(t testing.TB) string {
	t.Helper()
	s := os.Getenv("TEST_DATABASE")
	if s == "" {
		t.Skip("TEST_DATABASE not set")
	}
	return s
}

func logNotice(t testing.TB) pgconn.NoticeHandler {
	return func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}
}

// PoolConfig parses TEST_DATABASE into a pool config that logs server notices.
func PoolConfig(t testing.TB) *pgxpool.Config {
	cfg, err := pgxpool.ParseConfig(ConnString(t))
	require.NoError(t, err)
	cfg.ConnConfig.OnNotice = logNotice(t)
	return cfg
}

// Connect opens a single connection closed at test cleanup.
func Connect(ctx context.Context, t testing.TB) *pgx.Conn {
	cfg, err := pgx.ParseConfig(ConnString(t))
	require.NoError(t, err)
	cfg.OnNotice = logNotice(t)

	conn, err := pgx.ConnectConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, conn.Close(ctx))
	})
	return conn
}
