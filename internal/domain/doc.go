// Package domain contains the core entities of the analysis task lifecycle:
// the Task Record tracked while a backend analysis job is live, the task kinds
// and statuses reported by the analysis backend, the normalized task detail
// returned by status polls, and the error taxonomy shared by the client,
// coordinator and API layers. It has no dependencies on infrastructure.
package domain
