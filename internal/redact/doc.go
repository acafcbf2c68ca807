// Package redact removes secrets from diff content before it is sent to any
// LLM provider.
//
// Detection uses regex heuristics covering common secret shapes: API keys,
// JWTs, private keys, AWS access key IDs and secret access keys, bearer
// tokens, database connection strings, and provider-specific tokens
// (Anthropic, OpenAI, Google, GitHub, Slack).
//
// Path-based redaction is also supported: diff sections whose paths match
// configured glob patterns keep their headers but have every content line
// replaced, so line numbers elsewhere in the diff are unaffected.
package redact
