// Command guardianctl is the guardian side of recovery: it generates
// passphrase protected guardian keys, shows sessions and signs approvals.
// The operator subcommands perform signed management calls.
//
//	guardianctl keygen --guardian-id alice
//	guardianctl approve --recovery-id <id> --envelope-file share.json
//	guardianctl operator initiate --operator-id ops --user-id u1 --device-id phone
package main
