// Package recoveryhandler exposes the recovery orchestrator over HTTP.
//
// Routes, all under /api/v1:
//
//	GET    /recoveries/{recovery_id}                  session status (public)
//	POST   /recoveries/{recovery_id}/approvals        guardian approval (public, rate limited)
//	POST   /users/{user_id}/configuration             initialize recovery
//	GET    /users/{user_id}/configuration
//	PUT    /users/{user_id}/configuration/backup-options
//	POST   /users/{user_id}/guardians                 add guardian
//	DELETE /users/{user_id}/guardians/{guardian_id}   remove guardian
//	GET    /users/{user_id}/audit
//	POST   /users/{user_id}/recoveries                initiate recovery
//	GET    /users/{user_id}/recoveries
//	POST   /recoveries/{recovery_id}/claim            claim the reconstructed key
//	POST   /recoveries/{recovery_id}/cancel
//
// Every route except the first two requires an operator signature, see
// OperatorAuth. Client wraps the routes for Go callers.
package recoveryhandler
