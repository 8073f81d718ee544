// Package pipeline orchestrates staged content generation for projects.
//
// Stages:
//   - plan -> structure -> draft -> quality -> platform
//
// Each execution is gated by the caller's plan tier, checked against the
// ordered output of the preceding stage, and tracked as a step record with
// at most one live record per (project, stage). Records settle to success
// or failed; retryable capability failures keep the record live until the
// attempt budget runs out. Callers drive retries by re-invoking
// ExecuteStage; the service never retries in the background.
//
// Auditing:
//   - Records settling to a terminal status emit exactly one audit event.
//   - Denied or rejected executions do not emit audit events.
package pipeline
