package recoveryhandler

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ruteri/guardian-recovery/api"
)

// OperatorAuth authenticates management requests signed by a known operator.
type OperatorAuth struct {
	keys map[string]*ecdsa.PublicKey
	log  *slog.Logger
}

func NewOperatorAuth(keys map[string]*ecdsa.PublicKey, log *slog.Logger) *OperatorAuth {
	return &OperatorAuth{keys: keys, log: log}
}

type operatorsConfig struct {
	Operators []operatorMetadata `json:"operators"`
}

type operatorMetadata struct {
	ID     string `json:"id"`
	PubKey string `json:"pubkey"`
}

// LoadOperatorKeys reads {"operators": [{"id": ..., "pubkey": <PEM>}]}.
func LoadOperatorKeys(r io.Reader) (map[string]*ecdsa.PublicKey, error) {
	var data operatorsConfig
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode operator keys JSON: %w", err)
	}

	result := make(map[string]*ecdsa.PublicKey, len(data.Operators))
	for _, op := range data.Operators {
		key, err := ParsePublicKey([]byte(op.PubKey))
		if err != nil {
			return nil, fmt.Errorf("operator %s: %w", op.ID, err)
		}
		result[op.ID] = key
	}
	return result, nil
}

// Middleware rejects requests without a valid operator signature with 401.
func (a *OperatorAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operatorID, ok := a.verify(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "operator authentication failed"})
			return
		}
		a.log.Debug("operator authenticated", "operatorID", operatorID, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (a *OperatorAuth) verify(r *http.Request) (string, bool) {
	operatorID := r.Header.Get(api.OperatorIDHeader)
	signatureStr := r.Header.Get(api.OperatorSignatureHeader)
	if operatorID == "" || signatureStr == "" {
		return "", false
	}

	pubKey, exists := a.keys[operatorID]
	if !exists {
		a.log.Warn("Authentication failed: unknown operator ID", "operatorID", operatorID)
		return operatorID, false
	}

	signature, err := base64.StdEncoding.DecodeString(signatureStr)
	if err != nil {
		a.log.Warn("Authentication failed: invalid signature encoding", "operatorID", operatorID, "err", err)
		return operatorID, false
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			a.log.Error("Failed to read request body", "err", err)
			return operatorID, false
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	digest := RequestDigest(r.URL.Path, body)
	if !ecdsa.VerifyASN1(pubKey, digest[:], signature) {
		a.log.Warn("Authentication failed: invalid signature", "operatorID", operatorID)
		return operatorID, false
	}
	return operatorID, true
}

// RequestDigest is the message operators sign.
func RequestDigest(path string, body []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write(body)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SignRequest returns the base64 operator signature header value.
func SignRequest(key *ecdsa.PrivateKey, path string, body []byte) (string, error) {
	digest := RequestDigest(path, body)
	signature, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// GenerateOperatorKeyPair returns PEM encoded private and public P-256 keys.
func GenerateOperatorKeyPair() (string, string, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privateKeyBytes})

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	publicKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyBytes})

	return string(privateKeyPEM), string(publicKeyPEM), nil
}

func ParsePrivateKey(privateKeyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing private key")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ECDSA private key: %w", err)
	}
	return privateKey, nil
}

func ParsePublicKey(publicKeyPEM []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("invalid PEM data")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}

	ecdsaPubKey, ok := pubKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an ECDSA key")
	}
	return ecdsaPubKey, nil
}
