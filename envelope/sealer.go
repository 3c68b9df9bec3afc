package envelope

import (
	"context"
	"fmt"
	"time"

	"github.com/ruteri/guardian-recovery/cryptoutils"
	"github.com/ruteri/guardian-recovery/interfaces"
)

// Fixed destination ids of the non-guardian, non-device channels.
const (
	DestinationKeyspaceBackup = "keyspace"
	DestinationPrintout       = "printout"
)

// Sealer wraps shares into channel-specific envelopes. Each call produces a new
// immutable envelope; nothing is cached.
type Sealer struct {
	directory interfaces.GuardianKeyDirectory
	devices   interfaces.DeviceKeyService
	now       func() time.Time
}

func NewSealer(directory interfaces.GuardianKeyDirectory, devices interfaces.DeviceKeyService, now func() time.Time) *Sealer {
	if now == nil {
		now = time.Now
	}
	return &Sealer{directory: directory, devices: devices, now: now}
}

// Printout is the output of the printout channel.
type Printout struct {
	Envelope   interfaces.EncryptedShareEnvelope `json:"envelope"`
	Blob       string                            `json:"blob"`
	Transcript string                            `json:"transcript"`
}

// SealForGuardian encrypts share to the guardian's published key.
func (s *Sealer) SealForGuardian(ctx context.Context, share interfaces.Share, guardianID interfaces.GuardianID) (interfaces.EncryptedShareEnvelope, error) {
	publicKey, err := s.directory.PublicKeyOf(ctx, guardianID)
	if err != nil {
		return interfaces.EncryptedShareEnvelope{}, fmt.Errorf("guardian %s key lookup: %w", guardianID, err)
	}

	return s.seal(share, interfaces.ChannelGuardian, guardianID, s.now(), func(plaintext, aad []byte) (cryptoutils.Sealed, error) {
		return cryptoutils.SealForGuardian(publicKey, plaintext, aad)
	})
}

// SealForDevice encrypts share under the owner's device key. destinationID
// names the device slot.
func (s *Sealer) SealForDevice(ctx context.Context, share interfaces.Share, destinationID string) (interfaces.EncryptedShareEnvelope, error) {
	key, err := s.devices.EncryptionKeyFor(ctx, share.OwnerUserID)
	if err != nil {
		return interfaces.EncryptedShareEnvelope{}, fmt.Errorf("device key lookup: %w", err)
	}
	defer cryptoutils.Wipe(key)

	return s.seal(share, interfaces.ChannelDevice, destinationID, s.now(), func(plaintext, aad []byte) (cryptoutils.Sealed, error) {
		return cryptoutils.SealForDevice(key, plaintext, aad)
	})
}

// SealForKeyspaceBackup encrypts share under a key derived from the owner and
// distributedAt, which is recorded as the envelope's EncryptedAt.
func (s *Sealer) SealForKeyspaceBackup(share interfaces.Share, distributedAt time.Time) (interfaces.EncryptedShareEnvelope, error) {
	key := cryptoutils.KeyspaceBackupKey(share.OwnerUserID, distributedAt)
	defer cryptoutils.Wipe(key)

	return s.seal(share, interfaces.ChannelKeyspaceBackup, DestinationKeyspaceBackup, distributedAt, func(plaintext, aad []byte) (cryptoutils.Sealed, error) {
		return cryptoutils.SealGCM(key, plaintext, aad)
	})
}

// SealForPrintout produces the compact blob and the human-readable transcript.
func (s *Sealer) SealForPrintout(share interfaces.Share, createdAt time.Time) (Printout, error) {
	key := cryptoutils.PrintoutKey(share.OwnerUserID, createdAt)
	defer cryptoutils.Wipe(key)

	env, err := s.seal(share, interfaces.ChannelPrintout, DestinationPrintout, createdAt, func(plaintext, aad []byte) (cryptoutils.Sealed, error) {
		return cryptoutils.SealGCM(key, plaintext, aad)
	})
	if err != nil {
		return Printout{}, err
	}

	return Printout{
		Envelope:   env,
		Blob:       cryptoutils.EncodePrintoutBlob(sealedOf(env)),
		Transcript: Transcript(share, createdAt),
	}, nil
}

func (s *Sealer) seal(share interfaces.Share, channel interfaces.Channel, destinationID string, at time.Time, fn func(plaintext, aad []byte) (cryptoutils.Sealed, error)) (interfaces.EncryptedShareEnvelope, error) {
	plaintext, err := EncodePayload(share)
	if err != nil {
		return interfaces.EncryptedShareEnvelope{}, fmt.Errorf("encode share payload: %w", err)
	}
	defer wipe(plaintext)

	sealed, err := fn(plaintext, cryptoutils.AssociatedData(share.OwnerUserID, share.ID, destinationID))
	if err != nil {
		return interfaces.EncryptedShareEnvelope{}, fmt.Errorf("seal %s envelope: %w", channel, err)
	}

	return interfaces.EncryptedShareEnvelope{
		ShareID:            share.ID,
		UserID:             share.OwnerUserID,
		Channel:            channel,
		DestinationID:      destinationID,
		Nonce:              sealed.Nonce,
		Ciphertext:         sealed.Ciphertext,
		AuthTag:            sealed.Tag,
		EphemeralPublicKey: sealed.EphemeralPublicKey,
		EncryptedAt:        at,
	}, nil
}

func sealedOf(env interfaces.EncryptedShareEnvelope) cryptoutils.Sealed {
	return cryptoutils.Sealed{
		EphemeralPublicKey: env.EphemeralPublicKey,
		Nonce:              env.Nonce,
		Ciphertext:         env.Ciphertext,
		Tag:                env.AuthTag,
	}
}
