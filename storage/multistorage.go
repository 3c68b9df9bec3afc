package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/guardian-recovery/interfaces"
)

// MultiStorageBackend replicates blobs across several backends. Store
// succeeds once minWrites backends accepted the blob; Fetch returns the first
// copy found.
type MultiStorageBackend struct {
	backends  []interfaces.StorageBackend
	minWrites int
	log       *slog.Logger
}

// NewMultiStorageBackend requires a single successful write.
func NewMultiStorageBackend(backends []interfaces.StorageBackend, log *slog.Logger) *MultiStorageBackend {
	return NewReplicatedStorageBackend(backends, 1, log)
}

// NewReplicatedStorageBackend requires minWrites successful writes, clamped
// to [1, len(backends)].
func NewReplicatedStorageBackend(backends []interfaces.StorageBackend, minWrites int, log *slog.Logger) *MultiStorageBackend {
	if log == nil {
		log = slog.Default()
	}
	minWrites = max(1, min(minWrites, len(backends)))
	return &MultiStorageBackend{
		backends:  backends,
		minWrites: minWrites,
		log:       log,
	}
}

// Fetch returns ErrContentNotFound only when every reachable backend reports
// the content missing.
func (m *MultiStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("backend unavailable", "backend", backend.Name())
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		data, err := backend.Fetch(ctx, id, contentType)
		if err == nil {
			m.log.Debug("fetched content", "backend", backend.Name(), "contentID", id.String(), "duration", time.Since(start))
			return data, nil
		}
		if errors.Is(err, interfaces.ErrContentNotFound) {
			notFound++
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
	}

	if notFound > 0 && notFound == len(errs) {
		return nil, interfaces.ErrContentNotFound
	}
	return nil, fmt.Errorf("all backends failed to fetch %s: %w", id.String(), errors.Join(errs...))
}

func (m *MultiStorageBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	var errs []error
	written := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		got, err := backend.Store(ctx, data, contentType)
		if err != nil {
			m.log.Warn("failed to store to backend", "backend", backend.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			continue
		}
		if got != id {
			errs = append(errs, fmt.Errorf("%s: returned content id %s, want %s", backend.Name(), got.String(), id.String()))
			continue
		}
		written++
	}

	if written < m.minWrites {
		return interfaces.ContentID{}, fmt.Errorf("stored to %d of %d required backends: %w", written, m.minWrites, errors.Join(errs...))
	}
	if len(errs) > 0 {
		m.log.Warn("content not replicated to every backend", "contentID", id.String(), "written", written, "backends", len(m.backends))
	}
	return id, nil
}

func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

func (m *MultiStorageBackend) LocationURI() string {
	locations := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}
