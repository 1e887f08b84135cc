// Package jobs persists and dispatches the server-side processing queue.
//
// Each job is one unit of asynchronous work (transcribe a note, analyze a
// transcript, score a visit, build a report, send an email) with a typed JSON
// payload. Jobs are claimed in batches with a single atomic UPDATE so any
// number of dispatchers can share one database, retried with exponential
// backoff until their retry budget runs out, and reclaimed when a crashed
// dispatcher leaves them running.
//
// The dispatcher owns no timer. Callers decide when to Tick; the daemon does
// so on a fixed interval.
package jobs
