package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ruteri/guardian-recovery/cryptoutils"
	"github.com/ruteri/guardian-recovery/directory"
	"github.com/ruteri/guardian-recovery/verifier"
)

// keyFile is the on-disk form of a guardian's keys. Private keys are sealed
// under the guardian's passphrase.
type keyFile struct {
	GuardianID          string `json:"guardian_id"`
	EncryptionPublicKey []byte `json:"encryption_public_key"`
	EncryptionKey       []byte `json:"encryption_key"`
	SigningPublicKey    []byte `json:"signing_public_key"`
	SigningKey          []byte `json:"signing_key"`
}

type guardianKeys struct {
	GuardianID    string
	EncryptionKey []byte
	SigningKey    ed25519.PrivateKey
}

func (k *guardianKeys) Wipe() {
	cryptoutils.Wipe(k.EncryptionKey)
	cryptoutils.Wipe(k.SigningKey)
}

func generateKeyFile(guardianID string, passphrase []byte) (*keyFile, error) {
	if guardianID == "" {
		return nil, errors.New("guardian id is required")
	}
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase is required")
	}

	encPriv, encPub, err := cryptoutils.GenerateGuardianKeyPair()
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Wipe(encPriv)

	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	defer cryptoutils.Wipe(signPriv)

	sealedEnc, err := cryptoutils.EncryptWithPassphrase(passphrase, encPriv)
	if err != nil {
		return nil, err
	}
	sealedSign, err := cryptoutils.EncryptWithPassphrase(passphrase, signPriv)
	if err != nil {
		return nil, err
	}

	return &keyFile{
		GuardianID:          guardianID,
		EncryptionPublicKey: encPub,
		EncryptionKey:       sealedEnc,
		SigningPublicKey:    signPub,
		SigningKey:          sealedSign,
	}, nil
}

func (kf *keyFile) unlock(passphrase []byte) (*guardianKeys, error) {
	encPriv, err := cryptoutils.DecryptWithPassphrase(passphrase, kf.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock encryption key: %w", err)
	}
	signPriv, err := cryptoutils.DecryptWithPassphrase(passphrase, kf.SigningKey)
	if err != nil {
		cryptoutils.Wipe(encPriv)
		return nil, fmt.Errorf("failed to unlock signing key: %w", err)
	}
	if len(signPriv) != ed25519.PrivateKeySize {
		cryptoutils.Wipe(encPriv)
		return nil, errors.New("signing key has wrong size")
	}
	return &guardianKeys{GuardianID: kf.GuardianID, EncryptionKey: encPriv, SigningKey: signPriv}, nil
}

// dnsRecord is the TXT record to publish under the guardian directory zone.
func (kf *keyFile) dnsRecord() string {
	return directory.FormatRecord(kf.EncryptionPublicKey)
}

// signingKeyConfig is the entry to add to the server's guardian signing keys file.
func (kf *keyFile) signingKeyConfig() verifier.GuardianKeyConfig {
	return verifier.GuardianKeyConfig{
		ID:   kf.GuardianID,
		Type: verifier.KeyEd25519,
		Key:  encodeB64(kf.SigningPublicKey),
	}
}

func writeKeyFile(path string, kf *keyFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func readKeyFile(path string) (*keyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}
	return &kf, nil
}
