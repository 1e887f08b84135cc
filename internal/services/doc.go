// Package services defines shared utilities consumed by the pipeline job
// handlers and external integrations.
//
// Key responsibilities:
//   - Structured error markers plus the Wrap helper that classify failures
//     into retryable and permanent outcomes.
//   - Clients for the external speech, language-model, and email services,
//     each in its own subpackage.
//
// Use these helpers when wiring new handler logic so operational behaviour
// (error handling, retries, observability) stays uniform across the pipeline.
package services
