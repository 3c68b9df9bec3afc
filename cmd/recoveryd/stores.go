package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/guardian-recovery/directory"
	"github.com/ruteri/guardian-recovery/interfaces"
	"github.com/ruteri/guardian-recovery/storage"
	"github.com/ruteri/guardian-recovery/storage/mongostore"
	"github.com/ruteri/guardian-recovery/storage/postgres"
	"github.com/ruteri/guardian-recovery/storage/redisstore"
)

type stores struct {
	configs   interfaces.ConfigurationStore
	ledger    interfaces.ShareLedger
	sessions  interfaces.SessionStore
	guardians interfaces.GuardianStorage
	closers   []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

type storeURIs struct {
	state           string
	sessions        string
	guardianStorage string
	redisKeyPrefix  string
	migrate         bool
}

// openStores resolves each store URI. memory:// stores share one MemoryStore.
func openStores(ctx context.Context, uris storeURIs, cfg sessionTTL, log *slog.Logger) (*stores, error) {
	s := &stores{}
	memory := storage.NewMemoryStore()

	fail := func(err error) (*stores, error) {
		s.Close()
		return nil, err
	}

	switch scheme(uris.state) {
	case "memory":
		s.configs, s.ledger = memory, memory
	case "postgres", "postgresql":
		pg, err := postgres.Open(ctx, uris.state, log)
		if err != nil {
			return fail(err)
		}
		s.closers = append(s.closers, func() { pg.Close() })
		if uris.migrate {
			if err := pg.Migrate(ctx); err != nil {
				return fail(err)
			}
		}
		s.configs, s.ledger = pg, pg
	default:
		return fail(fmt.Errorf("unsupported state store %q", uris.state))
	}

	switch scheme(uris.sessions) {
	case "memory":
		s.sessions = memory
	case "redis", "rediss":
		rdb, err := redisClient(ctx, uris.sessions)
		if err != nil {
			return fail(err)
		}
		s.closers = append(s.closers, func() { rdb.Close() })
		s.sessions = redisstore.NewSessionStore(rdb, uris.redisKeyPrefix, cfg.ttl(), log)
	default:
		return fail(fmt.Errorf("unsupported session store %q", uris.sessions))
	}

	switch scheme(uris.guardianStorage) {
	case "memory":
		s.guardians = memory
	case "mongodb", "mongodb+srv":
		u, err := url.Parse(uris.guardianStorage)
		if err != nil {
			return fail(fmt.Errorf("invalid mongodb uri: %w", err))
		}
		dbName := strings.Trim(u.Path, "/")
		if dbName == "" {
			dbName = "guardian_recovery"
		}
		mg, err := mongostore.Connect(ctx, uris.guardianStorage, dbName, "guardian_envelopes", log)
		if err != nil {
			return fail(err)
		}
		s.closers = append(s.closers, func() { mg.Close(context.Background()) })
		s.guardians = mg
	default:
		return fail(fmt.Errorf("unsupported guardian storage %q", uris.guardianStorage))
	}

	return s, nil
}

func scheme(uri string) string {
	if uri == "memory" {
		return "memory"
	}
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// openBackups returns nil when no location is configured, in which case the
// backup envelope is returned to the caller of the distribution.
func openBackups(locations []string, minWrites int, certFile, keyFile string, log *slog.Logger) (interfaces.BackupDestination, error) {
	if len(locations) == 0 {
		return nil, nil
	}

	var factory interfaces.StorageBackendFactory = storage.NewStorageBackendFactory(log, minWrites)
	if certFile != "" {
		factory = factory.WithTLSAuth(func() (tls.Certificate, error) {
			return tls.LoadX509KeyPair(certFile, keyFile)
		})
	}

	parsed := make([]interfaces.StorageBackendLocation, 0, len(locations))
	for _, raw := range locations {
		loc, err := interfaces.NewStorageBackendLocation(raw)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, loc)
	}

	backend, err := factory.CreateMultiBackend(parsed)
	if err != nil {
		return nil, err
	}
	return storage.NewBackupWriter(backend, log), nil
}

// openDirectory accepts file:///path/keys.json or dns://zone?resolver=host:53.
func openDirectory(uri string, log *slog.Logger) (interfaces.GuardianKeyDirectory, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid guardian directory: %w", err)
	}
	switch u.Scheme {
	case "file":
		static, err := directory.LoadStaticFile(u.Path)
		if err != nil {
			return nil, err
		}
		return static, nil
	case "dns":
		resolver := u.Query().Get("resolver")
		if resolver == "" {
			resolver = "127.0.0.1:53"
		}
		return directory.NewDNSDirectory(u.Host, resolver, log), nil
	default:
		return nil, fmt.Errorf("unsupported guardian directory %q", uri)
	}
}

func redisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return rdb, nil
}
