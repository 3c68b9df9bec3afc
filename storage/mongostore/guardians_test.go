package mongostore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/ruteri/guardian-recovery/storage/storetest"
	"github.com/stretchr/testify/require"
)

func TestGuardianStorage(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	collName := "envelopes_" + uuid.NewString()
	storage, err := Connect(ctx, uri, "guardian_recovery_test", collName, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = storage.coll.Drop(ctx)
		_ = storage.Close(ctx)
	})

	storetest.RunGuardianStorageTests(t, storage)
}
