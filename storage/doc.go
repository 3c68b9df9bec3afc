// Package storage holds the persistence layer of the recovery orchestrator.
//
// MemoryStore implements every repository interface in memory. Durable
// implementations live in the postgres, redisstore and mongostore
// subpackages; storetest is their shared conformance suite.
//
// Keyspace backups are written through content-addressed blob backends
// selected by URI:
//
//	file:///var/lib/guardian-recovery/backups
//	s3://bucket/prefix?region=eu-west-1
//	ipfs://localhost:5001/guardian-recovery
//	vault://token@vault.example.com:8200/secret/guardian-recovery
//
// StorageBackendFactory builds a backend per URI and replicates across
// several when more than one is configured. BackupWriter adapts a backend
// into the keyspace-backup destination of the orchestrator; the location it
// returns is the backend URI followed by "#" and the hex content id.
package storage
