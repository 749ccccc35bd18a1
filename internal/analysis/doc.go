// Package analysis is the HTTP client for the external review-analysis
// backend: starting analysis jobs, reading task status, and listing a
// project's active tasks. Every failure to reach or decode the backend is
// returned as a *domain.TransportError; a 409 on submit is returned as a
// *domain.SubmissionConflictError carrying the already-running task.
package analysis
