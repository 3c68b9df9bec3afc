// Package device provides DeviceKeyService implementations.
package device

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// StaticKeyService derives per-user device keys from one device master key
// held in memory. Used by the development daemon and tests.
type StaticKeyService struct {
	deviceID  string
	masterKey []byte
}

// NewStaticKeyService creates a service for deviceID. masterKey must be 32 bytes.
func NewStaticKeyService(deviceID string, masterKey []byte) (*StaticKeyService, error) {
	if deviceID == "" {
		return nil, errors.New("device id must not be empty")
	}
	if len(masterKey) != 32 {
		return nil, errors.New("device master key must be 32 bytes")
	}
	return &StaticKeyService{deviceID: deviceID, masterKey: append([]byte(nil), masterKey...)}, nil
}

// NewRandomKeyService creates a service with a fresh random master key.
func NewRandomKeyService(deviceID string) (*StaticKeyService, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate device key: %w", err)
	}
	return NewStaticKeyService(deviceID, key)
}

// EncryptionKeyFor returns a fresh copy of the user's device key. The caller wipes it.
func (s *StaticKeyService) EncryptionKeyFor(_ context.Context, userID string) ([]byte, error) {
	if userID == "" {
		return nil, errors.New("user id must not be empty")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, s.masterKey, []byte(s.deviceID), []byte("guardian-recovery/device|"+userID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("device key derivation failed: %w", err)
	}
	return key, nil
}

func (s *StaticKeyService) DeviceID() string {
	return s.deviceID
}
