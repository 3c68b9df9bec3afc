package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ruteri/guardian-recovery/interfaces"
)

// MemoryStore keeps configurations, sessions, the share ledger and guardian
// envelopes in process memory. Values are copied on the way in and out so
// callers never alias stored state.
type MemoryStore struct {
	mu sync.RWMutex

	configs   map[interfaces.UserID]interfaces.RecoveryConfiguration
	sessions  map[string]interfaces.RecoverySession
	ledger    map[string]interfaces.LedgerEntry
	byUser    map[interfaces.UserID][]string
	envelopes map[envelopeKey]storedEnvelope
	seq       uint64
}

type envelopeKey struct {
	guardianID interfaces.GuardianID
	shareID    string
}

type storedEnvelope struct {
	owner    interfaces.UserID
	envelope interfaces.EncryptedShareEnvelope
	seq      uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:   make(map[interfaces.UserID]interfaces.RecoveryConfiguration),
		sessions:  make(map[string]interfaces.RecoverySession),
		ledger:    make(map[string]interfaces.LedgerEntry),
		byUser:    make(map[interfaces.UserID][]string),
		envelopes: make(map[envelopeKey]storedEnvelope),
	}
}

func (m *MemoryStore) GetConfiguration(_ context.Context, userID interfaces.UserID) (interfaces.RecoveryConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[userID]
	if !ok {
		return interfaces.RecoveryConfiguration{}, fmt.Errorf("%w: %s", interfaces.ErrNoConfiguration, userID)
	}
	return cfg.Clone(), nil
}

func (m *MemoryStore) PutConfiguration(_ context.Context, cfg interfaces.RecoveryConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.UserID] = cfg.Clone()
	return nil
}

func (m *MemoryStore) CreateSession(_ context.Context, session interfaces.RecoverySession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.RecoveryID]; ok {
		return fmt.Errorf("session %s already exists", session.RecoveryID)
	}
	m.sessions[session.RecoveryID] = session.Clone()
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, recoveryID string) (interfaces.RecoverySession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[recoveryID]
	if !ok {
		return interfaces.RecoverySession{}, fmt.Errorf("%w: %s", interfaces.ErrNotFound, recoveryID)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session interfaces.RecoverySession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.RecoveryID]; !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, session.RecoveryID)
	}
	m.sessions[session.RecoveryID] = session.Clone()
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, userID interfaces.UserID) ([]interfaces.RecoverySession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]interfaces.RecoverySession, 0)
	for _, s := range m.sessions {
		if userID == "" || s.UserID == userID {
			out = append(out, s.Clone())
		}
	}
	slices.SortFunc(out, func(a, b interfaces.RecoverySession) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, recoveryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, recoveryID)
	return nil
}

func (m *MemoryStore) RecordShares(_ context.Context, entries []interfaces.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkNewShares(entries); err != nil {
		return err
	}
	m.insertShares(entries)
	return nil
}

// ReplaceShares validates the whole batch before touching the ledger.
func (m *MemoryStore) ReplaceShares(_ context.Context, entries []interfaces.LedgerEntry, revokeIDs []string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkNewShares(entries); err != nil {
		return 0, err
	}
	m.insertShares(entries)
	return m.revokeShares(revokeIDs, at), nil
}

func (m *MemoryStore) checkNewShares(entries []interfaces.LedgerEntry) error {
	for _, e := range entries {
		if _, ok := m.ledger[e.ShareID]; ok {
			return fmt.Errorf("share %s already recorded", e.ShareID)
		}
	}
	return nil
}

func (m *MemoryStore) insertShares(entries []interfaces.LedgerEntry) {
	for _, e := range entries {
		m.ledger[e.ShareID] = e
		m.byUser[e.UserID] = append(m.byUser[e.UserID], e.ShareID)
	}
}

func (m *MemoryStore) GetShare(_ context.Context, shareID string) (interfaces.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.ledger[shareID]
	if !ok {
		return interfaces.LedgerEntry{}, fmt.Errorf("%w: %s", interfaces.ErrLedgerEntryNotFound, shareID)
	}
	return e, nil
}

func (m *MemoryStore) ListShares(_ context.Context, userID interfaces.UserID) ([]interfaces.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byUser[userID]
	out := make([]interfaces.LedgerEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.ledger[id])
	}
	return out, nil
}

func (m *MemoryStore) RevokeShares(_ context.Context, shareIDs []string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeShares(shareIDs, at), nil
}

func (m *MemoryStore) revokeShares(shareIDs []string, at time.Time) int {
	revoked := 0
	for _, id := range shareIDs {
		e, ok := m.ledger[id]
		if !ok || e.Status != interfaces.ShareActive {
			continue
		}
		revokedAt := at
		e.Status = interfaces.ShareRevoked
		e.RevokedAt = &revokedAt
		m.ledger[id] = e
		revoked++
	}
	return revoked
}

// Store implements interfaces.GuardianStorage.
func (m *MemoryStore) Store(_ context.Context, guardianID interfaces.GuardianID, envelope interfaces.EncryptedShareEnvelope, ownerUserID interfaces.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	key := envelopeKey{guardianID: guardianID, shareID: envelope.ShareID}
	m.envelopes[key] = storedEnvelope{owner: ownerUserID, envelope: envelope, seq: m.seq}
	return nil
}

// Fetch implements interfaces.GuardianStorage.
func (m *MemoryStore) Fetch(_ context.Context, guardianID interfaces.GuardianID, ownerUserID interfaces.UserID) (interfaces.EncryptedShareEnvelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *storedEnvelope
	for key, stored := range m.envelopes {
		if key.guardianID != guardianID || stored.owner != ownerUserID {
			continue
		}
		if latest == nil || stored.seq > latest.seq {
			s := stored
			latest = &s
		}
	}
	if latest == nil {
		return interfaces.EncryptedShareEnvelope{}, fmt.Errorf("%w: guardian %s, user %s", interfaces.ErrEnvelopeNotFound, guardianID, ownerUserID)
	}
	return latest.envelope, nil
}

// FetchShare implements interfaces.GuardianStorage.
func (m *MemoryStore) FetchShare(_ context.Context, guardianID interfaces.GuardianID, shareID string) (interfaces.EncryptedShareEnvelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.envelopes[envelopeKey{guardianID: guardianID, shareID: shareID}]
	if !ok {
		return interfaces.EncryptedShareEnvelope{}, fmt.Errorf("%w: guardian %s, share %s", interfaces.ErrEnvelopeNotFound, guardianID, shareID)
	}
	return stored.envelope, nil
}
