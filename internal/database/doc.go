// Package database owns the SQLite handle shared by the admission queue and
// the schedule catalog.
//
// Open applies WAL journaling, foreign keys, a busy timeout, and immediate
// transaction locking on every pooled connection, then creates or verifies the
// embedded schema. Exec and WithTx retry SQLITE_BUSY contention through the
// retry package so callers never see transient lock errors unless the bounded
// backoff is exhausted. Timestamp helpers store UTC values in a fixed-width
// layout so lexical comparison in SQL matches chronological order.
package database
