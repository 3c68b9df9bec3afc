package verifier

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/guardian-recovery/interfaces"
)

// KeyType names a supported guardian signing scheme.
type KeyType string

const (
	KeyEd25519  KeyType = "ed25519"
	KeyP256     KeyType = "p256"
	KeyEthereum KeyType = "ethereum"
)

type signingKey struct {
	typ     KeyType
	ed25519 ed25519.PublicKey
	ecdsa   *ecdsa.PublicKey
	address common.Address
}

// Registry implements interfaces.SignatureVerifier over per-guardian signing
// keys. Signing keys are separate from the guardians' X25519 encryption keys.
type Registry struct {
	mu   sync.RWMutex
	keys map[interfaces.GuardianID]signingKey
	log  *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{keys: make(map[interfaces.GuardianID]signingKey), log: log}
}

// RegisterEd25519 registers a raw 32-byte Ed25519 public key.
func (r *Registry) RegisterEd25519(guardianID interfaces.GuardianID, publicKey []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("guardian %s: ed25519 key must be %d bytes", guardianID, ed25519.PublicKeySize)
	}
	return r.put(guardianID, signingKey{typ: KeyEd25519, ed25519: append(ed25519.PublicKey(nil), publicKey...)})
}

// RegisterPEM registers a PKIX public key in PEM format. ECDSA and Ed25519
// keys are accepted.
func (r *Registry) RegisterPEM(guardianID interfaces.GuardianID, publicKeyPEM []byte) error {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return fmt.Errorf("guardian %s: failed to decode public key PEM", guardianID)
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("guardian %s: failed to parse public key: %w", guardianID, err)
	}

	switch key := pubKey.(type) {
	case *ecdsa.PublicKey:
		return r.put(guardianID, signingKey{typ: KeyP256, ecdsa: key})
	case ed25519.PublicKey:
		return r.put(guardianID, signingKey{typ: KeyEd25519, ed25519: key})
	default:
		return fmt.Errorf("guardian %s: public key is neither ECDSA nor ED25519 key", guardianID)
	}
}

// RegisterEthereum registers a secp256k1 signer by its 20-byte address.
func (r *Registry) RegisterEthereum(guardianID interfaces.GuardianID, address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("guardian %s: invalid ethereum address %q", guardianID, address)
	}
	return r.put(guardianID, signingKey{typ: KeyEthereum, address: common.HexToAddress(address)})
}

func (r *Registry) put(guardianID interfaces.GuardianID, key signingKey) error {
	if guardianID == "" {
		return errors.New("guardian id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[guardianID] = key
	return nil
}

// Has reports whether a signing key is registered for guardianID.
func (r *Registry) Has(guardianID interfaces.GuardianID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[guardianID]
	return ok
}

// Verify checks signature over ApprovalDigest(session, guardianID).
func (r *Registry) Verify(_ context.Context, session interfaces.RecoverySession, guardianID interfaces.GuardianID, signature []byte) bool {
	r.mu.RLock()
	key, ok := r.keys[guardianID]
	r.mu.RUnlock()
	if !ok {
		r.log.Warn("No signing key for guardian", slog.String("guardian_id", guardianID))
		return false
	}

	digest := ApprovalDigest(session, guardianID)

	switch key.typ {
	case KeyEd25519:
		return ed25519.Verify(key.ed25519, digest, signature)
	case KeyP256:
		return ecdsa.VerifyASN1(key.ecdsa, digest, signature)
	case KeyEthereum:
		return verifyEthereum(key.address, digest, signature)
	default:
		return false
	}
}

func verifyEthereum(address common.Address, digest, signature []byte) bool {
	if len(signature) != crypto.SignatureLength {
		return false
	}
	sig := append([]byte(nil), signature...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == address
}

// GuardianKeyConfig is one entry of a signing keys file.
type GuardianKeyConfig struct {
	ID      string  `json:"id"`
	Type    KeyType `json:"type"`
	Key     string  `json:"key,omitempty"`     // base64 raw ed25519 key
	PEM     string  `json:"pem,omitempty"`     // PKIX PEM
	Address string  `json:"address,omitempty"` // 0x-prefixed ethereum address
}

type guardianKeysFile struct {
	Guardians []GuardianKeyConfig `json:"guardians"`
}

// LoadKeys reads a JSON document of the form {"guardians": [...]} into the registry.
func (r *Registry) LoadKeys(reader io.Reader) error {
	var data guardianKeysFile
	if err := json.NewDecoder(reader).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode guardian keys JSON: %w", err)
	}

	for _, g := range data.Guardians {
		var err error
		switch g.Type {
		case KeyEd25519:
			if g.PEM != "" {
				err = r.RegisterPEM(g.ID, []byte(g.PEM))
				break
			}
			var raw []byte
			raw, err = base64.StdEncoding.DecodeString(g.Key)
			if err == nil {
				err = r.RegisterEd25519(g.ID, raw)
			}
		case KeyP256:
			err = r.RegisterPEM(g.ID, []byte(g.PEM))
		case KeyEthereum:
			err = r.RegisterEthereum(g.ID, g.Address)
		default:
			err = fmt.Errorf("guardian %s: unsupported key type %q", g.ID, g.Type)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
