// Package mailer delivers buyer reports over a transactional email HTTP API.
// When no endpoint is configured, a noop implementation is returned so
// callers never need to branch on whether email is enabled.
package mailer
