// Package verifier checks guardian approval signatures.
//
// A guardian approves a recovery session by signing ApprovalDigest, a SHA-256
// digest over the recovery id, the owner, the guardian id and the session
// deadline. Registry accepts Ed25519 keys, ECDSA P-256 keys in PEM form and
// Ethereum secp256k1 signers identified by address.
package verifier
