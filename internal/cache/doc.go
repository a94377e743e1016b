// Package cache persists completed subtitle results in SQLite, keyed by
// media identity and language pair. The daemon and the CLI share one
// database file; WAL mode plus a bounded busy retry keep concurrent access
// safe.
package cache
