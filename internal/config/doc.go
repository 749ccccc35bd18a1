// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config file. It provides type-safe
// access to the server, analysis backend, polling policy and storage settings
// while keeping configuration details separate from the task lifecycle logic.
package config
