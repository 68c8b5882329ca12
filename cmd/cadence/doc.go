// Command cadence is the operator CLI for the cadence scheduling daemon.
//
// Catalog, queue, and settings commands open the database directly so they
// work whether or not the daemon runs. Commands that need the daemon's
// collaborator wiring (status, schedule resume, test-notify) call its admin
// API instead.
package main
