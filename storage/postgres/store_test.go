package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/ruteri/guardian-recovery/storage/storetest"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	store, err := Open(context.Background(), dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestStore(t *testing.T) {
	store := openTestStore(t)

	t.Run("configurations", func(t *testing.T) {
		storetest.RunConfigurationStoreTests(t, store)
	})
	t.Run("ledger", func(t *testing.T) {
		storetest.RunShareLedgerTests(t, store)
	})
}
