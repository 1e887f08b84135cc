// Package llm wraps the OpenRouter-compatible chat completion API used by
// the analysis, match-scoring, and report handlers.
//
// The client always requests JSON-only responses, retries transient HTTP
// failures with capped exponential backoff (honoring Retry-After), and
// tolerates the formatting quirks models exhibit in practice: code fences,
// prose around the JSON object, and streaming-schema responses.
package llm
