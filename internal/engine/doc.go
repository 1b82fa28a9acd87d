// Package engine orchestrates asynchronous run execution. It profiles the
// host for concurrency settings, drives work items through the bounded pool
// with the adaptive throttle controller attached, and persists per-item
// results and the final aggregate, turning every execution-level failure into
// result data rather than an error.
package engine
