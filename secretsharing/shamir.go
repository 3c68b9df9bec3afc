// Package secretsharing adapts Shamir's Secret Sharing from
// github.com/hashicorp/vault/shamir to the recovery domain's Share type.
//
// Each vault part is the y-coordinate bytes followed by a single x-coordinate
// byte. The adapter exposes the x-coordinate as Share.Index and the y bytes as
// Share.Value, and records threshold/total on every share so Reconstruct can
// refuse an under-sized quorum instead of returning garbage.
//
// A threshold of one is supported as the degenerate constant polynomial:
// every share carries the secret itself.
package secretsharing

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/guardian-recovery/interfaces"
)

// MaxShares is the largest number of shares a single split can produce.
const MaxShares = 255

var (
	// ErrInvalidParameters is returned by Split for an empty secret or an impossible (t, n).
	ErrInvalidParameters = errors.New("secretsharing: invalid split parameters")

	// ErrInsufficientShares is returned when fewer than threshold distinct shares are supplied.
	ErrInsufficientShares = errors.New("secretsharing: insufficient shares")

	// ErrInconsistentShares is returned when shares do not belong to the same split.
	ErrInconsistentShares = errors.New("secretsharing: inconsistent shares")
)

// Shamir implements interfaces.SecretSharer.
type Shamir struct{}

func NewShamir() *Shamir {
	return &Shamir{}
}

// Split divides secret into totalShares shares, any threshold of which
// reconstruct it. The returned Values are fresh allocations owned by the caller.
func (s *Shamir) Split(secret []byte, threshold, totalShares int) ([]interfaces.Share, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidParameters)
	}
	if threshold < 1 || totalShares < threshold || totalShares > MaxShares {
		return nil, fmt.Errorf("%w: threshold %d, total %d", ErrInvalidParameters, threshold, totalShares)
	}

	shares := make([]interfaces.Share, totalShares)

	if threshold == 1 {
		for i := range shares {
			shares[i] = interfaces.Share{
				Index:       i + 1,
				Value:       bytes.Clone(secret),
				Threshold:   threshold,
				TotalShares: totalShares,
			}
		}
		return shares, nil
	}

	if totalShares == 1 {
		return nil, fmt.Errorf("%w: threshold %d, total %d", ErrInvalidParameters, threshold, totalShares)
	}

	parts, err := shamir.Split(secret, totalShares, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}

	for i, part := range parts {
		last := len(part) - 1
		shares[i] = interfaces.Share{
			Index:       int(part[last]),
			Value:       bytes.Clone(part[:last]),
			Threshold:   threshold,
			TotalShares: totalShares,
		}
		wipeBytes(part)
	}

	return shares, nil
}

// Reconstruct combines shares into the original secret. Duplicate shares
// (same index and value) are counted once.
func (s *Shamir) Reconstruct(shares []interfaces.Share) ([]byte, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("%w: no shares", ErrInsufficientShares)
	}

	threshold := shares[0].Threshold
	total := shares[0].TotalShares
	valueLen := len(shares[0].Value)
	if threshold < 1 || total < threshold || valueLen == 0 {
		return nil, fmt.Errorf("%w: malformed share metadata", ErrInconsistentShares)
	}

	distinct := make(map[int][]byte, len(shares))
	order := make([]int, 0, len(shares))
	for _, share := range shares {
		if share.Threshold != threshold || share.TotalShares != total {
			return nil, fmt.Errorf("%w: mixed threshold or total", ErrInconsistentShares)
		}
		if len(share.Value) != valueLen {
			return nil, fmt.Errorf("%w: mixed share lengths", ErrInconsistentShares)
		}
		if share.Index < 1 || share.Index > MaxShares {
			return nil, fmt.Errorf("%w: share index %d out of range", ErrInconsistentShares, share.Index)
		}
		if existing, ok := distinct[share.Index]; ok {
			if !bytes.Equal(existing, share.Value) {
				return nil, fmt.Errorf("%w: conflicting values for index %d", ErrInconsistentShares, share.Index)
			}
			continue
		}
		distinct[share.Index] = share.Value
		order = append(order, share.Index)
	}

	if len(distinct) < threshold {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientShares, len(distinct), threshold)
	}

	if threshold == 1 {
		secret := distinct[order[0]]
		for _, idx := range order[1:] {
			if !bytes.Equal(distinct[idx], secret) {
				return nil, fmt.Errorf("%w: single-share values differ", ErrInconsistentShares)
			}
		}
		return bytes.Clone(secret), nil
	}

	parts := make([][]byte, 0, len(order))
	for _, idx := range order {
		part := make([]byte, valueLen+1)
		copy(part, distinct[idx])
		part[valueLen] = byte(idx)
		parts = append(parts, part)
	}
	defer func() {
		for _, part := range parts {
			wipeBytes(part)
		}
	}()

	secret, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInconsistentShares, err)
	}
	return secret, nil
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
