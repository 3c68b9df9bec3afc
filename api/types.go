package api

import (
	"github.com/ruteri/guardian-recovery/interfaces"
)

// Operator request authentication headers. The signature is ASN.1 ECDSA
// P-256 over SHA-256(path || body), base64 encoded.
const (
	OperatorIDHeader        = "X-Operator-ID"
	OperatorSignatureHeader = "X-Operator-Signature"
)

// Responses reuse the json-tagged result types of the recovery package.

type BackupOptionsRequest struct {
	BackupOptions    interfaces.BackupOptions `json:"backup_options"`
	DeviceShardCount int                      `json:"device_shard_count"`
}

type GuardianRequest struct {
	GuardianID interfaces.GuardianID `json:"guardian_id"`
}

// DeviceRequest identifies the device initiating, claiming or cancelling a recovery.
type DeviceRequest struct {
	DeviceID string `json:"device_id"`
}

// ApprovalRequest carries the guardian's signature over the approval digest
// of the session. SharePayload optionally holds the guardian's decrypted
// share payload, used instead of server-side retrieval.
type ApprovalRequest struct {
	GuardianID   interfaces.GuardianID `json:"guardian_id"`
	Signature    []byte                `json:"signature"`
	SharePayload []byte                `json:"share_payload,omitempty"`
}

type ClaimResponse struct {
	RecoveryID string `json:"recovery_id"`
	Key        []byte `json:"key"`
}

type ErrorResponse struct {
	Error      string `json:"error"`
	RecoveryID string `json:"recovery_id,omitempty"`
}
