// Package stores contains the persistence layer for Terrane: applied
// resource state, run history, and the event log, backed by SQLite with
// embedded migrations, plus an in-memory store for tests.
package stores
