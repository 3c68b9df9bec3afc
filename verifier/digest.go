package verifier

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/ruteri/guardian-recovery/interfaces"
)

const approvalDomain = "guardian-recovery/approval/v1"

// ApprovalDigest is the 32-byte message a guardian signs to approve a session.
// It binds the approval to the session, its owner, the guardian and the
// session deadline; every field is length-prefixed.
func ApprovalDigest(session interfaces.RecoverySession, guardianID interfaces.GuardianID) []byte {
	h := sha256.New()
	writeField(h, []byte(approvalDomain))
	writeField(h, []byte(session.RecoveryID))
	writeField(h, []byte(session.UserID))
	writeField(h, []byte(guardianID))
	writeField(h, []byte(session.ExpiresAt.UTC().Format(time.RFC3339Nano)))
	return h.Sum(nil)
}

func writeField(h interface{ Write([]byte) (int, error) }, field []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(field)))
	h.Write(length[:])
	h.Write(field)
}
