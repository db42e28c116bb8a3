// Package identity resolves bearer credentials into subject identifiers.
//
// Resolver runs an ordered chain of steps and stops at the first one that
// yields a subject:
//
//  1. Cache, a process-local map with a fixed 60 second TTL checked on read.
//  2. LocalVerifier, an HMAC JWT check, present only when a verification
//     secret is configured.
//  3. RemoteResolver, a GET against the identity service whoami endpoint.
//
// Subjects found by steps 2 and 3 are written back to the cache. When every
// step fails the caller gets an error matching ErrUnauthenticated; the
// individual step failures stay attached for logging but are never shown
// to clients.
package identity
