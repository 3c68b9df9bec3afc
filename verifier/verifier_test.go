package verifier

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/guardian-recovery/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func testSession() interfaces.RecoverySession {
	return interfaces.RecoverySession{
		RecoveryID: "rec-1",
		UserID:     "alice",
		ExpiresAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func p256PEM(t *testing.T, key *ecdsa.PrivateKey) []byte {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestApprovalDigestBindsFields(t *testing.T) {
	s := testSession()
	base := ApprovalDigest(s, "bob")
	require.Len(t, base, 32)
	require.Equal(t, base, ApprovalDigest(s, "bob"))

	assert.NotEqual(t, base, ApprovalDigest(s, "carol"))

	other := s
	other.RecoveryID = "rec-2"
	assert.NotEqual(t, base, ApprovalDigest(other, "bob"))

	other = s
	other.UserID = "mallory"
	assert.NotEqual(t, base, ApprovalDigest(other, "bob"))

	other = s
	other.ExpiresAt = s.ExpiresAt.Add(time.Second)
	assert.NotEqual(t, base, ApprovalDigest(other, "bob"))

	// Field boundaries are unambiguous.
	a := interfaces.RecoverySession{RecoveryID: "ab", UserID: "c"}
	b := interfaces.RecoverySession{RecoveryID: "a", UserID: "bc"}
	assert.NotEqual(t, ApprovalDigest(a, "g"), ApprovalDigest(b, "g"))
}

func TestRegistry_Ed25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	r := NewRegistry(testLogger())
	require.NoError(t, r.RegisterEd25519("bob", pub))
	require.True(t, r.Has("bob"))

	s := testSession()
	sig := SignEd25519(priv, s, "bob")
	assert.True(t, r.Verify(context.Background(), s, "bob", sig))

	other := s
	other.RecoveryID = "rec-2"
	assert.False(t, r.Verify(context.Background(), other, "bob", sig))
	assert.False(t, r.Verify(context.Background(), s, "carol", sig))

	require.Error(t, r.RegisterEd25519("bob", pub[:10]))
}

func TestRegistry_P256(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	r := NewRegistry(testLogger())
	require.NoError(t, r.RegisterPEM("bob", p256PEM(t, key)))

	s := testSession()
	sig, err := SignP256(key, s, "bob")
	require.NoError(t, err)
	assert.True(t, r.Verify(context.Background(), s, "bob", sig))

	sig[len(sig)-1] ^= 0xff
	assert.False(t, r.Verify(context.Background(), s, "bob", sig))

	require.Error(t, r.RegisterPEM("bob", []byte("not-a-valid-pem")))
}

func TestRegistry_Ethereum(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	r := NewRegistry(testLogger())
	require.NoError(t, r.RegisterEthereum("bob", address.Hex()))

	s := testSession()
	sig, err := SignEthereum(key, s, "bob")
	require.NoError(t, err)
	assert.True(t, r.Verify(context.Background(), s, "bob", sig))

	// Wallets commonly emit V as 27/28.
	legacy := append([]byte(nil), sig...)
	legacy[64] += 27
	assert.True(t, r.Verify(context.Background(), s, "bob", legacy))

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	forged, err := SignEthereum(otherKey, s, "bob")
	require.NoError(t, err)
	assert.False(t, r.Verify(context.Background(), s, "bob", forged))
	assert.False(t, r.Verify(context.Background(), s, "bob", sig[:10]))

	require.Error(t, r.RegisterEthereum("bob", "0x1234"))
}

func TestRegistry_LoadKeys(t *testing.T) {
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	p256Key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ethKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	doc, err := json.Marshal(map[string]any{
		"guardians": []GuardianKeyConfig{
			{ID: "bob", Type: KeyEd25519, Key: base64.StdEncoding.EncodeToString(edPub)},
			{ID: "carol", Type: KeyP256, PEM: string(p256PEM(t, p256Key))},
			{ID: "dave", Type: KeyEthereum, Address: crypto.PubkeyToAddress(ethKey.PublicKey).Hex()},
		},
	})
	require.NoError(t, err)

	r := NewRegistry(testLogger())
	require.NoError(t, r.LoadKeys(bytes.NewReader(doc)))

	s := testSession()
	assert.True(t, r.Verify(context.Background(), s, "bob", SignEd25519(edPriv, s, "bob")))

	sig, err := SignP256(p256Key, s, "carol")
	require.NoError(t, err)
	assert.True(t, r.Verify(context.Background(), s, "carol", sig))

	sig, err = SignEthereum(ethKey, s, "dave")
	require.NoError(t, err)
	assert.True(t, r.Verify(context.Background(), s, "dave", sig))

	bad := []byte(`{"guardians":[{"id":"x","type":"rsa"}]}`)
	require.Error(t, NewRegistry(testLogger()).LoadKeys(bytes.NewReader(bad)))
}
