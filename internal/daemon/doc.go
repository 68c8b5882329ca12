// Package daemon coordinates the long-running cadence process.
//
// It runs preflight checks, takes a flock-based single-instance lock, starts
// the scheduler loop, and serves the admin API. Status aggregates scheduler
// state, catalog and queue counts, and a host resource snapshot for the CLI.
//
// Keep orchestration logic here: pipeline steps belong to the pipeline
// package and polling policy to the scheduler.
package daemon
