// Package session provides durable client-side persistence for the last-known
// identity snapshot and the pending-challenge marker.
//
// # Encoding
//
// Snapshots are stored as a small versioned JSON record. The decoder also
// accepts the legacy unversioned record ({email, role, brandId}) and maps
// brandId onto TenantID. Anything it cannot parse is reported as
// [ErrCorruptSnapshot]; it never panics.
//
// # Architecture boundaries
//
// This package owns the [Store] and its [Backend] implementations (memory,
// file, Redis). It does NOT decide whether a snapshot is trustworthy: a
// snapshot is a hint that the engine reconciles against the identity
// provider during hydration.
//
// # What this package must NOT do
//
//   - Import sessionauth (no upward imports).
//   - Store passwords, one-time codes, or bearer tokens in a [Snapshot].
//   - Treat a loaded snapshot as proof of authentication.
package session
