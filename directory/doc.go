// Package directory implements guardian public key lookup.
//
// Static serves keys from memory or a JSON file. DNSDirectory resolves keys
// published by guardians as TXT records:
//
//	alice._recovery.example.com. 300 IN TXT "v=grk1; k=<base64 X25519 key>"
package directory
