package cryptoutils

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// SealForDevice encrypts plaintext with XChaCha20-Poly1305 under a device-bound key.
func SealForDevice(deviceKey, plaintext, aad []byte) (Sealed, error) {
	aead, err := chacha20poly1305.NewX(deviceKey)
	if err != nil {
		return Sealed{}, fmt.Errorf("invalid device key: %w", err)
	}
	return sealAEAD(aead, plaintext, aad)
}

// OpenOnDevice reverses SealForDevice.
func OpenOnDevice(deviceKey []byte, sealed Sealed, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(deviceKey)
	if err != nil {
		return nil, fmt.Errorf("invalid device key: %w", err)
	}
	return openAEAD(aead, sealed, aad)
}
