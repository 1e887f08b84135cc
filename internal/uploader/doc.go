// Package uploader moves captured artifacts from the local outbox to the
// server. Each artifact uploads under its own id as the idempotency key, so a
// retry after a lost response cannot create a duplicate voice note; the local
// row is deleted only once the server has acknowledged everything.
package uploader
