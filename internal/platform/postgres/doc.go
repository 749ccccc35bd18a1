// Package postgres provides the PostgreSQL implementation of
// store.ResultStore, the connection helper used by cmd/server and the
// embedded goose migrations that create its schema.
package postgres
