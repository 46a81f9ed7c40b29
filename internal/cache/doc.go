// Package cache implements a bounded in-process cache and the pieces built on
// top of it.
//
//   - LocalBackend: map plus recency list, LRU eviction, lazy TTL expiry.
//   - Backend: the capability every store satisfies (LocalBackend,
//     BoltBackend, and Client, which talks to a Server over a Unix socket).
//   - Manager: key namespacing ("prefix:key") and a default ttl over a shared
//     Backend.
//   - DeriveKey and Memoize: deterministic keys from call arguments and a
//     wrapper that caches the results of computations.
//
// Absence is never an error: lookups report found=false. Configuration
// mistakes (non-positive capacity, negative ttl) are returned as errors when
// they are made rather than clamped.
package cache
