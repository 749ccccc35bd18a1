// Package api exposes the task coordinator over HTTP: submitting analyses,
// querying live tasks and stored results, resuming a project's remote tasks
// and streaming outcome events.
package api
