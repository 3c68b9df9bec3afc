package verifier

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/guardian-recovery/interfaces"
)

// SignEd25519 produces a guardian approval with an Ed25519 key.
func SignEd25519(privateKey ed25519.PrivateKey, session interfaces.RecoverySession, guardianID interfaces.GuardianID) []byte {
	return ed25519.Sign(privateKey, ApprovalDigest(session, guardianID))
}

// SignP256 produces an ASN.1 ECDSA approval signature.
func SignP256(privateKey *ecdsa.PrivateKey, session interfaces.RecoverySession, guardianID interfaces.GuardianID) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, privateKey, ApprovalDigest(session, guardianID))
}

// SignEthereum produces a 65-byte [R || S || V] secp256k1 approval signature.
func SignEthereum(privateKey *ecdsa.PrivateKey, session interfaces.RecoverySession, guardianID interfaces.GuardianID) ([]byte, error) {
	return crypto.Sign(ApprovalDigest(session, guardianID), privateKey)
}
