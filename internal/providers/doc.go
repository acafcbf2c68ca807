// Package providers implements the Reviewer interface for each supported LLM
// provider.
//
// Supported providers: Anthropic (Claude, via the official SDK), OpenAI
// (GPT), Google (Gemini), and Ollama / LM Studio for local models.
//
// All providers share a common retry helper with exponential back-off for
// rate limits and 5xx responses. Credentials and endpoints are passed in
// through [Options] so tests can point a provider at an httptest server.
//
// Use [New] to obtain a Reviewer by provider name and model string.
package providers
