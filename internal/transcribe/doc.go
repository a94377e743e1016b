// Package transcribe is the HTTP client for the whisper transcription
// service: job submission (URL, upload, playlist), task status polling, the
// server-side cache probe, and health checks.
//
// The client performs exactly one outbound request per call and never
// retries; retry and fallback policy lives with the tracker and the
// pipeline orchestrator. Engine profiles capture the per-engine required
// fields and are validated before anything leaves the process.
package transcribe
