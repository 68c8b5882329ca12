// Package queue is the resource admission queue: a persisted priority FIFO with
// one mutual-exclusion lock per resource type.
//
// Tasks wait in priority order (ties broken by creation order, oldest first).
// Dequeue selects the next waiting task and takes the type's lock inside one
// immediate SQLite transaction, so at most one task per type is processing at
// any instant, across goroutines and across processes sharing the database.
// Finish releases the lock only when the finishing task still holds it.
//
// Enqueue, AppendLog, and Position ride through write contention with the
// bounded backoff in the database package; AppendLog never surfaces an error.
package queue
