// Package preflight verifies external services and filesystem access before
// the daemon starts taking work, so misconfiguration surfaces as a readable
// checklist instead of failed jobs.
package preflight
