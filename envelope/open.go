package envelope

import (
	"fmt"
	"time"

	"github.com/ruteri/guardian-recovery/cryptoutils"
	"github.com/ruteri/guardian-recovery/interfaces"
)

// OpenGuardianEnvelope decrypts a guardian-channel envelope with the guardian's
// X25519 private key.
func OpenGuardianEnvelope(privateKey []byte, env interfaces.EncryptedShareEnvelope) (interfaces.Share, error) {
	if env.Channel != interfaces.ChannelGuardian {
		return interfaces.Share{}, fmt.Errorf("not a guardian envelope: %s", env.Channel)
	}
	return open(env, func(sealed cryptoutils.Sealed, aad []byte) ([]byte, error) {
		return cryptoutils.OpenAsGuardian(privateKey, sealed, aad)
	})
}

// OpenDeviceEnvelope decrypts a device-channel envelope with the device key.
func OpenDeviceEnvelope(deviceKey []byte, env interfaces.EncryptedShareEnvelope) (interfaces.Share, error) {
	if env.Channel != interfaces.ChannelDevice {
		return interfaces.Share{}, fmt.Errorf("not a device envelope: %s", env.Channel)
	}
	return open(env, func(sealed cryptoutils.Sealed, aad []byte) ([]byte, error) {
		return cryptoutils.OpenOnDevice(deviceKey, sealed, aad)
	})
}

// OpenKeyspaceBackup recomputes the backup key from the envelope's owner and
// timestamp and decrypts it.
func OpenKeyspaceBackup(env interfaces.EncryptedShareEnvelope) (interfaces.Share, error) {
	if env.Channel != interfaces.ChannelKeyspaceBackup {
		return interfaces.Share{}, fmt.Errorf("not a keyspace backup envelope: %s", env.Channel)
	}
	key := cryptoutils.KeyspaceBackupKey(env.UserID, env.EncryptedAt)
	defer cryptoutils.Wipe(key)

	return open(env, func(sealed cryptoutils.Sealed, aad []byte) ([]byte, error) {
		return cryptoutils.OpenGCM(key, sealed, aad)
	})
}

// OpenPrintoutBlob decrypts a transcribed printout blob. The caller supplies
// the owner, share id and creation time printed on the transcript.
func OpenPrintoutBlob(userID, shareID string, createdAt time.Time, blob string) (interfaces.Share, error) {
	sealed, err := cryptoutils.DecodePrintoutBlob(blob)
	if err != nil {
		return interfaces.Share{}, err
	}

	env := interfaces.EncryptedShareEnvelope{
		ShareID:       shareID,
		UserID:        userID,
		Channel:       interfaces.ChannelPrintout,
		DestinationID: DestinationPrintout,
		Nonce:         sealed.Nonce,
		Ciphertext:    sealed.Ciphertext,
		AuthTag:       sealed.Tag,
		EncryptedAt:   createdAt,
	}

	key := cryptoutils.PrintoutKey(userID, createdAt)
	defer cryptoutils.Wipe(key)

	return open(env, func(sealed cryptoutils.Sealed, aad []byte) ([]byte, error) {
		return cryptoutils.OpenGCM(key, sealed, aad)
	})
}

func open(env interfaces.EncryptedShareEnvelope, fn func(cryptoutils.Sealed, []byte) ([]byte, error)) (interfaces.Share, error) {
	plaintext, err := fn(sealedOf(env), cryptoutils.AssociatedData(env.UserID, env.ShareID, env.DestinationID))
	if err != nil {
		return interfaces.Share{}, err
	}

	share, err := DecodePayload(plaintext)
	if err != nil {
		return interfaces.Share{}, err
	}
	if share.ID != env.ShareID || share.OwnerUserID != env.UserID {
		share.Wipe()
		return interfaces.Share{}, fmt.Errorf("%w: payload does not match envelope", ErrMalformedPayload)
	}
	share.AssignedAt = env.EncryptedAt
	return share, nil
}
