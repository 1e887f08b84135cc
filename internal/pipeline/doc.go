// Package pipeline implements the background job handlers. Two chains run
// over the job store: uploads drive transcribe then analyze, which is
// terminal; a buyer's comparison request starts calculate_match_score,
// which drives generate_report and send_email. Each stage does exactly one
// piece of work against one external collaborator, records its output, and
// enqueues any follow-on as its final act so a crash between steps re-runs
// the stage rather than skipping it.
package pipeline
