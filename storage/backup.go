package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ruteri/guardian-recovery/interfaces"
)

// BackupWriter stores keyspace-backup envelopes as JSON blobs in a
// content-addressed backend. The returned location is the backend URI with
// the content id as fragment.
type BackupWriter struct {
	backend interfaces.StorageBackend
	log     *slog.Logger
}

func NewBackupWriter(backend interfaces.StorageBackend, log *slog.Logger) *BackupWriter {
	return &BackupWriter{backend: backend, log: log}
}

func (w *BackupWriter) StoreBackup(ctx context.Context, envelope interfaces.EncryptedShareEnvelope) (string, error) {
	if envelope.Channel != interfaces.ChannelKeyspaceBackup {
		return "", fmt.Errorf("backup writer cannot store %s envelope", envelope.Channel)
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to encode backup envelope: %w", err)
	}

	id, err := w.backend.Store(ctx, data, interfaces.BackupEnvelopeType)
	if err != nil {
		return "", fmt.Errorf("failed to store backup envelope: %w", err)
	}

	w.log.Info("stored keyspace backup",
		slog.String("userID", envelope.UserID),
		slog.String("shareID", envelope.ShareID),
		slog.String("backend", w.backend.Name()),
		slog.String("contentID", id.String()))

	return interfaces.BackupRef{Backend: w.backend.LocationURI(), ID: id}.String(), nil
}

// FetchBackup loads the envelope stored at location, as returned by StoreBackup.
func (w *BackupWriter) FetchBackup(ctx context.Context, location string) (interfaces.EncryptedShareEnvelope, error) {
	ref, err := interfaces.ParseBackupRef(location)
	if err != nil {
		return interfaces.EncryptedShareEnvelope{}, err
	}
	id := ref.ID

	data, err := w.backend.Fetch(ctx, id, interfaces.BackupEnvelopeType)
	if err != nil {
		return interfaces.EncryptedShareEnvelope{}, err
	}
	if interfaces.ComputeID(data) != id {
		return interfaces.EncryptedShareEnvelope{}, fmt.Errorf("backup %s failed integrity check", id.String())
	}

	var envelope interfaces.EncryptedShareEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return interfaces.EncryptedShareEnvelope{}, fmt.Errorf("failed to decode backup envelope: %w", err)
	}
	return envelope, nil
}
