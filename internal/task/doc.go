// Package task drives analysis jobs from submission to outcome.
// The Coordinator submits jobs to the analysis backend, tracks each live job
// in the registry, runs one poller per job and publishes exactly one outcome
// event when the job leaves the registry.
package task
