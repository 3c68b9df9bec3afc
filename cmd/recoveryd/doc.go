// Command recoveryd serves the guardian recovery API.
//
// Each store is selected by URI:
//
//	--state-store       memory:// | postgres://...
//	--session-store     memory:// | redis://...
//	--guardian-storage  memory:// | mongodb://host/db
//	--backup-location   file:// | s3:// | ipfs:// | vault:// (repeatable)
//
// Memory stores share a single in-process instance and lose all state on
// restart. Management routes require operator signatures unless
// --insecure-no-operator-auth is given.
package main
