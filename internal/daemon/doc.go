// Package daemon runs the long-lived subsync service: one pipeline
// orchestrator, one segment store, and an HTTP API through which external
// frontends (the browser extension, the CLI) drive generation and read
// results. Flock-based locking prevents a second daemon instance against
// the same state directory.
package daemon
