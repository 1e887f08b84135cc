// Package records persists the domain data produced by the processing
// pipeline: visits, voice notes, match scores, and buyer reports. It shares
// the job database connection so job rows and the records they touch live in
// one SQLite file.
package records
