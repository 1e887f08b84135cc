// Package agent runs the client-side capture loop: it keeps recordings in
// the local outbox while offline and drains them to the server as soon as a
// network link is available, then on a steady sweep interval.
package agent
