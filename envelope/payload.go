package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ruteri/guardian-recovery/interfaces"
)

// ErrMalformedPayload is returned when a decrypted or submitted payload does
// not decode into a share.
var ErrMalformedPayload = errors.New("malformed share payload")

// SharePayload is the plaintext sealed inside every envelope. Guardians who
// approve with their own decrypted copy submit exactly this document.
type SharePayload struct {
	ShareID     string `json:"share_id"`
	Index       int    `json:"index"`
	Value       []byte `json:"value"`
	Threshold   int    `json:"threshold"`
	TotalShares int    `json:"total_shares"`
	UserID      string `json:"user_id"`
}

// EncodePayload serializes share as the sealed plaintext. The result carries
// the share value; callers wipe it.
func EncodePayload(share interfaces.Share) ([]byte, error) {
	return json.Marshal(SharePayload{
		ShareID:     share.ID,
		Index:       share.Index,
		Value:       share.Value,
		Threshold:   share.Threshold,
		TotalShares: share.TotalShares,
		UserID:      share.OwnerUserID,
	})
}

// DecodePayload parses a share payload. The input is wiped afterwards since
// it carries the share value.
func DecodePayload(data []byte) (interfaces.Share, error) {
	defer wipe(data)

	var p SharePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return interfaces.Share{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.ShareID == "" || p.UserID == "" || len(p.Value) == 0 || p.Index < 1 || p.Threshold < 1 || p.TotalShares < p.Threshold {
		return interfaces.Share{}, ErrMalformedPayload
	}

	return interfaces.Share{
		ID:          p.ShareID,
		Index:       p.Index,
		Value:       p.Value,
		Threshold:   p.Threshold,
		TotalShares: p.TotalShares,
		OwnerUserID: p.UserID,
		Status:      interfaces.ShareActive,
	}, nil
}

func wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
