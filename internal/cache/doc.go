// Package cache provides an in-memory cache for raw LLM expert responses.
//
// Entries are keyed by a SHA-256 hash of the provider name, model, expert
// name and (already redacted) diff content, and expire after a fixed TTL.
// A disabled or nil *Cache is valid and never hits.
package cache
