// Package store defines interfaces for Task Result persistence.
// The coordinator depends only on ResultStore; implementations live here
// (in memory) and in internal/platform/postgres.
package store
