package cryptoutils

import (
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"strings"
	"time"
)

// PrintoutBlobPrefix marks a compact printout blob and its format version.
const PrintoutBlobPrefix = "GRP1:"

const gcmNonceSize = 12

var printoutEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// KeyspaceBackupKey derives the keyspace-backup key from the owner and the
// distribution timestamp, so the owner can recompute it without a stored key.
func KeyspaceBackupKey(userID string, distributedAt time.Time) []byte {
	return derivedKey(keyspaceBackupLabel, userID, distributedAt)
}

// PrintoutKey derives the key protecting the compact printout blob.
func PrintoutKey(userID string, createdAt time.Time) []byte {
	return derivedKey(printoutLabel, userID, createdAt)
}

func derivedKey(label, userID string, at time.Time) []byte {
	h := sha256.New()
	h.Write([]byte(label))
	h.Write([]byte(userID))
	h.Write([]byte(at.UTC().Format(time.RFC3339Nano)))
	return h.Sum(nil)
}

// EncodePrintoutBlob renders a GCM-sealed share as an uppercase base32 string
// suitable for QR alphanumeric mode.
func EncodePrintoutBlob(sealed Sealed) string {
	raw := make([]byte, 0, len(sealed.Nonce)+len(sealed.Ciphertext)+len(sealed.Tag))
	raw = append(raw, sealed.Nonce...)
	raw = append(raw, sealed.Ciphertext...)
	raw = append(raw, sealed.Tag...)
	return PrintoutBlobPrefix + printoutEncoding.EncodeToString(raw)
}

// DecodePrintoutBlob parses a blob produced by EncodePrintoutBlob. Whitespace
// introduced by transcription is ignored.
func DecodePrintoutBlob(blob string) (Sealed, error) {
	blob = strings.Join(strings.Fields(blob), "")
	if !strings.HasPrefix(blob, PrintoutBlobPrefix) {
		return Sealed{}, errors.New("not a printout blob")
	}

	raw, err := printoutEncoding.DecodeString(strings.ToUpper(strings.TrimPrefix(blob, PrintoutBlobPrefix)))
	if err != nil {
		return Sealed{}, errors.New("malformed printout blob")
	}
	if len(raw) < gcmNonceSize+TagSize {
		return Sealed{}, errors.New("printout blob too short")
	}

	return Sealed{
		Nonce:      raw[:gcmNonceSize],
		Ciphertext: raw[gcmNonceSize : len(raw)-TagSize],
		Tag:        raw[len(raw)-TagSize:],
	}, nil
}
