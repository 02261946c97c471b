// Package redis implements the Redis-backed session verification
// collaborator used by the authentication handshake, plus the client
// construction with metrics and circuit-breaker hooks.
package redis
