// Package capture persists voice notes and photos recorded during property
// visits until they are safely uploaded to the server.
//
// The store is an outbox: an artifact enters as pending, is claimed by the
// uploader as uploading, and is deleted outright once the server acknowledges
// it. There is no uploaded state. Artifacts that exhaust their retry budget
// are parked as failed and wait for an operator to retry them.
//
// Payload bytes live in their own columns so listing and counting never drag
// megabytes of audio through a scan.
package capture
