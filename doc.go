// Package session implements the client-side session lifecycle for the
// MediChecks triage API: credential storage, claims decoding, state
// mirroring, an authenticated HTTP transport, edge route guarding, and the
// user-facing session orchestrator.
//
// Credential lifecycle:
//   - A Credential (access/refresh token pair) is created by login or
//     federated login, rotated by the silent-refresh protocol in Client, and
//     destroyed by Logout or an unrecoverable refresh failure. The Store is
//     tab-scoped and intentionally non-durable.
//   - Every credential mutation is followed, in the same synchronous step, by
//     a Mirror.Sync so edge-readable facts and local subscribers never
//     observe a stale view.
//
// Claims:
//   - DecodeClaims performs a non-verifying decode of the bearer token. The
//     result drives client-side routing hints only; it is never trusted to
//     gate a privileged server operation.
//
// Route guarding:
//   - Decide is a pure decision function over mirrored AuthFacts. It never
//     produces a redirect cycle: the only redirect targets are the login,
//     dashboard, and profile-completion fixed points. GuardMiddleware adapts
//     it to go-router handler chains at the network edge.
//
// The realtime chat channel lives in the realtime subpackage.
package session
