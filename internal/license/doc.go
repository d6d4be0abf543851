// Package license implements the client-side license validation engine.
// It decides, for every protected operation, whether the installation's
// license credential is currently usable, combining a possibly-stale local
// record, a best-effort network check against the license server, a bounded
// offline grace window, and explicit revocation.
//
// # Components
//
//	- Record/Outcome: the persisted credential and the ephemeral check result
//	- Store: pluggable credential persistence (memory, encrypted file, secret backend)
//	- Client: the HTTP transport to the license server's /validate endpoint
//	- Policy: pure decision logic over (record, now)
//	- Engine: the orchestrator every caller interacts with
//	- Gate: the higher-order wrapper deciding whether an operation executes
//
// # Validation Flow
//
// Engine.Check loads the stored record, asks the policy which path applies,
// and either answers from the local record (scheduling a non-blocking
// background refresh) or blocks on a single bounded network exchange. The
// store is only mutated with responses at least as fresh as what it already
// holds, so a slow background validation can never overwrite a newer
// foreground result or resurrect a revoked record.
//
// # Offline Behavior
//
// A record validated within its grace window keeps working without
// connectivity; the grace window bounds how long an unreachable server is
// tolerated. An expired record is never trusted offline. Once the window is
// crossed, validation is mandatory and an unreachable server denies the
// operation.
//
// # Error Handling
//
// Validation-domain results are returned as Outcome values, never as errors.
// The only error surfaced to callers is a storage failure on an explicit
// write. Transport failures are typed (ErrUnauthorized, ErrUnreachable,
// ErrMalformedResponse) so the engine can distinguish an authoritative
// rejection from an untrustworthy network path.
package license
