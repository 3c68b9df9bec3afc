package cryptoutils

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for passphrase-protected key files.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	saltSize     = 16
)

var keyFileAAD = []byte("guardian-recovery/key-file")

// EncryptWithPassphrase protects data (typically a guardian private key) under
// a passphrase. Format: [salt (16)][nonce (12)][ciphertext][tag (16)].
func EncryptWithPassphrase(passphrase, data []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeySize)
	defer wipeBytes(key)

	sealed, err := SealGCM(key, data, keyFileAAD)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+len(sealed.Nonce)+len(sealed.Ciphertext)+TagSize)
	out = append(out, salt...)
	out = append(out, sealed.Nonce...)
	out = append(out, sealed.Ciphertext...)
	out = append(out, sealed.Tag...)
	return out, nil
}

// DecryptWithPassphrase reverses EncryptWithPassphrase.
func DecryptWithPassphrase(passphrase, encrypted []byte) ([]byte, error) {
	if len(encrypted) < saltSize+gcmNonceSize+TagSize {
		return nil, errors.New("encrypted data too short")
	}

	salt := encrypted[:saltSize]
	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeySize)
	defer wipeBytes(key)

	body := encrypted[saltSize:]
	return OpenGCM(key, Sealed{
		Nonce:      body[:gcmNonceSize],
		Ciphertext: body[gcmNonceSize : len(body)-TagSize],
		Tag:        body[len(body)-TagSize:],
	}, keyFileAAD)
}
