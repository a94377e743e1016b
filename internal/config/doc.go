// Package config loads, normalizes, and validates subsync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SUBSYNC_API_KEY. The Config type centralizes every knob the CLI and daemon
// need, so cache directories, transcription service credentials, and tracking
// intervals are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical language tags, and clear validation errors.
package config
