package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/ruteri/guardian-recovery/interfaces"
)

// Domain separation strings. Changing any of them invalidates every envelope
// ever produced.
const (
	aadPrefix           = "guardian-recovery/v1|"
	guardianChannelInfo = "guardian-recovery/guardian-channel"
	keyspaceBackupLabel = "guardian-recovery/keyspace-backup"
	printoutLabel       = "guardian-recovery/printout"
)

// TagSize is the authentication tag size of every AEAD used here.
const TagSize = 16

// KeySize is the symmetric key size of every channel.
const KeySize = 32

// Sealed is the output of a channel seal, with the AEAD tag split from the ciphertext.
type Sealed struct {
	EphemeralPublicKey []byte
	Nonce              []byte
	Ciphertext         []byte
	Tag                []byte
}

// AssociatedData binds an envelope to its user, share and destination so it
// cannot be replayed against a different one.
func AssociatedData(userID, shareID, destinationID string) []byte {
	return []byte(aadPrefix + userID + "|" + shareID + "|" + destinationID)
}

func sealAEAD(aead cipher.AEAD, plaintext, aad []byte) (Sealed, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := aead.Seal(nil, nonce, plaintext, aad)
	split := len(out) - aead.Overhead()
	return Sealed{
		Nonce:      nonce,
		Ciphertext: out[:split],
		Tag:        out[split:],
	}, nil
}

func openAEAD(aead cipher.AEAD, sealed Sealed, aad []byte) ([]byte, error) {
	if len(sealed.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length %d", interfaces.ErrDecryptionFailed, len(sealed.Nonce))
	}
	if len(sealed.Tag) != aead.Overhead() {
		return nil, fmt.Errorf("%w: bad tag length %d", interfaces.ErrDecryptionFailed, len(sealed.Tag))
	}

	joined := make([]byte, 0, len(sealed.Ciphertext)+len(sealed.Tag))
	joined = append(joined, sealed.Ciphertext...)
	joined = append(joined, sealed.Tag...)

	plaintext, err := aead.Open(nil, sealed.Nonce, joined, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errors.New("AES-256-GCM key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// SealGCM encrypts plaintext with AES-256-GCM under key, authenticating aad.
func SealGCM(key, plaintext, aad []byte) (Sealed, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return Sealed{}, err
	}
	return sealAEAD(aesGCM, plaintext, aad)
}

// OpenGCM reverses SealGCM.
func OpenGCM(key []byte, sealed Sealed, aad []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return openAEAD(aesGCM, sealed, aad)
}
