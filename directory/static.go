package directory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ruteri/guardian-recovery/interfaces"
)

// Static is an in-memory guardian key directory.
type Static struct {
	mu   sync.RWMutex
	keys map[interfaces.GuardianID][]byte
}

func NewStatic() *Static {
	return &Static{keys: make(map[interfaces.GuardianID][]byte)}
}

// LoadStaticFile reads a JSON object mapping guardian ids to base64 X25519
// public keys.
func LoadStaticFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guardian keys file: %w", err)
	}

	var encoded map[string]string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("failed to parse guardian keys file: %w", err)
	}

	s := NewStatic()
	for guardianID, b64 := range encoded {
		key, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("guardian %s: invalid base64 key: %w", guardianID, err)
		}
		if err := s.Add(guardianID, key); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers or replaces a guardian's public key.
func (s *Static) Add(guardianID interfaces.GuardianID, publicKey []byte) error {
	if len(publicKey) != 32 {
		return fmt.Errorf("guardian %s: public key must be 32 bytes, got %d", guardianID, len(publicKey))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[guardianID] = append([]byte(nil), publicKey...)
	return nil
}

func (s *Static) PublicKeyOf(_ context.Context, guardianID interfaces.GuardianID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[guardianID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownGuardianKey, guardianID)
	}
	return append([]byte(nil), key...), nil
}
