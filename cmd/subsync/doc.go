// Command subsync is the CLI for the subtitle generation and
// synchronization service: it submits jobs, follows their progress,
// exports SRT files, manages the local result cache, and runs the daemon.
package main
