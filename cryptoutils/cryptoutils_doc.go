// Package cryptoutils provides the per-channel authenticated encryption used
// to wrap recovery shares, plus helpers for handling secret material in memory.
//
// Every channel authenticates the same associated data,
//
//	"guardian-recovery/v1|" + userID + "|" + shareID + "|" + destinationID
//
// so an envelope opened against a different user, share or destination fails.
//
// # Channels
//
// Guardian: ephemeral-static X25519 key agreement against the guardian's
// long-term public key, HKDF-SHA256 (salt = ephemeral || static public key),
// AES-256-GCM. The ephemeral public key travels with the ciphertext.
//
// Device: XChaCha20-Poly1305 under a 32-byte device-bound key.
//
// Keyspace backup: AES-256-GCM under SHA-256(label || userID || timestamp),
// recomputable by the owner from the distribution timestamp.
//
// Printout: AES-256-GCM under a derived key, encoded as an unpadded base32
// blob with a "GRP1:" prefix for QR capture.
//
// # Encryption Format
//
// Seal functions return a Sealed value with the nonce, the ciphertext and the
// 16-byte tag kept apart, matching the envelope layout:
//
//	nonce (12 or 24 bytes) | ciphertext | tag (16 bytes)
//
// # Secret Memory
//
// SecureBuffer keeps secret bytes in an mlock'ed region on Linux and macOS and
// zeroes them on Destroy. Wipe zeroes arbitrary slices in place.
//
// # Key Files
//
// EncryptWithPassphrase protects guardian private keys at rest with an
// Argon2id-derived AES-256-GCM key.
package cryptoutils
