// Package envelope turns raw shares into channel-bound EncryptedShareEnvelopes
// and back.
//
// The plaintext of every envelope is a JSON SharePayload carrying the share id,
// index, value, threshold, total and owner. Openers check that the payload
// matches the envelope it came from before returning a Share.
package envelope
