// Package catalog is the durable record of titles, schedules, per-stage
// pipeline runs, logs, and automation settings.
//
// It has no behavior of its own beyond invariant-preserving writes. Claiming a
// schedule is a single conditional update whose affected-row count tells the
// caller whether it won. Stage runs are unique per (schedule, stage) and their
// creation is idempotent. A partial unique index keeps at most one active
// schedule per title. Logs are append-only.
package catalog
