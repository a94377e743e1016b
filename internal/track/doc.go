// Package track drives a submitted job to a terminal state and exposes its
// lifecycle as a single event stream.
//
// Two interchangeable update strategies feed the stream: a websocket push
// channel and fixed-interval polling. When the push channel is unavailable
// or drops mid-flight, tracking falls back to polling with the same job
// handle and the same attempt budget; callers cannot observe the switch.
// The emitter enforces the stream contract: progress clamped to [0,100] and
// non-decreasing, and exactly one terminal event before the channel closes.
package track
