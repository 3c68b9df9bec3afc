/*
Package api holds the HTTP surface of the guardian recovery service.

  - server - HTTP server lifecycle: chi router, request logging, health and
    drain endpoints, graceful shutdown
  - recoveryhandler - routes for recovery configuration, guardian lifecycle,
    audit and the recovery session protocol, plus a Go client

This package itself only carries the shared configuration and wire types.

# Authentication

Management routes (configuration, guardians, audit, initiation, claim and
cancel) require an operator signature: the caller sends OperatorIDHeader and
OperatorSignatureHeader, the latter an ECDSA P-256 signature over
SHA-256(request path || body).

Guardian approvals authenticate themselves: the request body carries the
guardian's signature over the approval digest of the session, checked by the
orchestrator's SignatureVerifier. Approvals are rate limited per guardian.

Key distribution is not exposed over HTTP. Secrets only enter the service
through the Go API.
*/
package api
