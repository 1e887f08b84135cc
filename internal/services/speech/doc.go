// Package speech wraps the hosted speech-to-text API used by the transcribe
// handler. Audio is submitted as a multipart upload and the response carries
// the transcript text plus the detected language, normalized to a canonical
// BCP-47 tag.
package speech
