package redisstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ruteri/guardian-recovery/storage/storetest"
	"github.com/stretchr/testify/require"
)

func TestSessionStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())

	prefix := "test-" + uuid.NewString() + ":"
	store := NewSessionStore(rdb, prefix, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	storetest.RunSessionStoreTests(t, store)
}
