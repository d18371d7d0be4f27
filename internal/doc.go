// Package internal documents the event board server internals.
//
// The internal tree is organized by responsibility:
// - api: the operation endpoint, health checks, middleware and routing
// - mutation: the named operation registry behind the endpoint
// - domain: events, participants, categories and accounts, plus the version guard
// - storage: the Postgres and in-memory entity stores
// - supervisor: the worker pool that shares one listener
// - app: the per-worker application context
// - auth, session, config, metrics, telemetry, sanitize: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
