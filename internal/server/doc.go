// Package server exposes the HTTP API the capture agent and CLI talk to:
// visit registration, capture uploads, and job inspection. Uploads are
// idempotent on the client artifact id, so the agent can safely retry after
// a lost response.
package server
