// Package daemon ties the server-side pieces into one lifecycle: the HTTP
// API, the job dispatcher loop, and periodic queue maintenance, with
// flock-based locking so only one instance runs against a database.
package daemon
