// Package api exposes cadence's admin HTTP API and the wire types shared
// with the operator CLI.
//
// # Routes
//
// NewHandler mounts typed huma operations on a chi router under /v1:
// health and daemon status, title intake and logs, schedule creation,
// cancellation, stopping and resumption, admission-queue inspection and cancellation,
// and automation settings. Errors use a single {"error":{code,message}}
// envelope.
//
// # Wire Types
//
// Title, Schedule, StageRun, Task, and LogLine translate catalog and queue
// models into transport-friendly DTOs. Enums are exposed as lowercase strings
// and timestamps as RFC3339 with milliseconds.
//
// # Client
//
// Client is the CLI's view of a running daemon. Only operations that need the
// daemon's collaborator wiring go through it; everything else opens the
// database directly.
package api
