package cryptoutils

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// GenerateGuardianKeyPair returns a fresh X25519 key pair for a guardian.
func GenerateGuardianKeyPair() (privateKey, publicKey []byte, err error) {
	privateKey = make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, privateKey); err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	publicKey, err = curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	return privateKey, publicKey, nil
}

// GuardianPublicKey derives the X25519 public key of a guardian private key.
func GuardianPublicKey(privateKey []byte) ([]byte, error) {
	if len(privateKey) != curve25519.ScalarSize {
		return nil, errors.New("guardian private key must be 32 bytes")
	}
	return curve25519.X25519(privateKey, curve25519.Basepoint)
}

// SealForGuardian encrypts plaintext to a guardian's long-term X25519 public key.
// It generates a fresh ephemeral key per call, derives an AES-256-GCM key with
// HKDF-SHA256 over the shared secret and returns the ephemeral public key with
// the ciphertext. Only the guardian's private key can derive the same key.
func SealForGuardian(guardianPublicKey, plaintext, aad []byte) (Sealed, error) {
	if len(guardianPublicKey) != curve25519.PointSize {
		return Sealed{}, errors.New("guardian public key must be 32 bytes")
	}

	ephemeralPrivate, ephemeralPublic, err := GenerateGuardianKeyPair()
	if err != nil {
		return Sealed{}, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	defer wipeBytes(ephemeralPrivate)

	key, err := deriveGuardianKey(ephemeralPrivate, guardianPublicKey, ephemeralPublic, guardianPublicKey)
	if err != nil {
		return Sealed{}, err
	}
	defer wipeBytes(key)

	sealed, err := SealGCM(key, plaintext, aad)
	if err != nil {
		return Sealed{}, err
	}
	sealed.EphemeralPublicKey = ephemeralPublic
	return sealed, nil
}

// OpenAsGuardian decrypts an envelope produced by SealForGuardian.
func OpenAsGuardian(guardianPrivateKey []byte, sealed Sealed, aad []byte) ([]byte, error) {
	if len(sealed.EphemeralPublicKey) != curve25519.PointSize {
		return nil, errors.New("ephemeral public key must be 32 bytes")
	}

	guardianPublic, err := GuardianPublicKey(guardianPrivateKey)
	if err != nil {
		return nil, err
	}

	key, err := deriveGuardianKey(guardianPrivateKey, sealed.EphemeralPublicKey, sealed.EphemeralPublicKey, guardianPublic)
	if err != nil {
		return nil, err
	}
	defer wipeBytes(key)

	return OpenGCM(key, sealed, aad)
}

func deriveGuardianKey(private, peer, ephemeralPublic, staticPublic []byte) ([]byte, error) {
	shared, err := curve25519.X25519(private, peer)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}
	defer wipeBytes(shared)

	salt := make([]byte, 0, len(ephemeralPublic)+len(staticPublic))
	salt = append(salt, ephemeralPublic...)
	salt = append(salt, staticPublic...)

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(guardianChannelInfo)), key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}
