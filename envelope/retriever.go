package envelope

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ruteri/guardian-recovery/interfaces"
)

// KeyringRetriever implements interfaces.ShareRetriever for deployments that
// hold guardian private keys on the guardians' behalf (custodial guardians,
// development and tests). It opens the envelope of the guardian's active
// ledger share for the user.
type KeyringRetriever struct {
	storage interfaces.GuardianStorage
	ledger  interfaces.ShareLedger

	mu   sync.RWMutex
	keys map[interfaces.GuardianID][]byte
}

func NewKeyringRetriever(storage interfaces.GuardianStorage, ledger interfaces.ShareLedger) *KeyringRetriever {
	return &KeyringRetriever{
		storage: storage,
		ledger:  ledger,
		keys:    make(map[interfaces.GuardianID][]byte),
	}
}

// AddKey registers a guardian's X25519 private key.
func (r *KeyringRetriever) AddKey(guardianID interfaces.GuardianID, privateKey []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[guardianID] = append([]byte(nil), privateKey...)
}

func (r *KeyringRetriever) FetchGuardianShare(ctx context.Context, guardianID interfaces.GuardianID, userID interfaces.UserID) (interfaces.Share, error) {
	r.mu.RLock()
	key, ok := r.keys[guardianID]
	r.mu.RUnlock()
	if !ok {
		return interfaces.Share{}, fmt.Errorf("%w: %s", interfaces.ErrUnknownGuardianKey, guardianID)
	}

	shareID, err := r.activeShare(ctx, guardianID, userID)
	if err != nil {
		return interfaces.Share{}, err
	}
	env, err := r.storage.FetchShare(ctx, guardianID, shareID)
	if err != nil {
		return interfaces.Share{}, err
	}
	if env.DestinationID != guardianID {
		return interfaces.Share{}, errors.New("stored envelope addressed to another guardian")
	}

	return OpenGuardianEnvelope(key, env)
}

func (r *KeyringRetriever) activeShare(ctx context.Context, guardianID interfaces.GuardianID, userID interfaces.UserID) (string, error) {
	entries, err := r.ledger.ListShares(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("listing shares: %w", err)
	}
	for _, e := range entries {
		if e.Status == interfaces.ShareActive && e.Channel == interfaces.ChannelGuardian && e.DestinationID == guardianID {
			return e.ShareID, nil
		}
	}
	return "", fmt.Errorf("%w: no active share of user %s for guardian %s", interfaces.ErrEnvelopeNotFound, userID, guardianID)
}
