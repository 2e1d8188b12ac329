// Package api exposes the proof pipeline over a small REST surface:
// synchronous generation and verification, asynchronous job management,
// archive history, health and metrics.
package api
