// Package services defines shared utilities consumed by the pipeline executor,
// the scheduler loop, and the production service clients.
//
// Key responsibilities:
//   - Context helpers that stamp schedule IDs, run IDs, stage names, queue task
//     IDs, and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify collaborator
//     failures as retryable or terminal.
//   - The ErrAwaitingInput signal a renderer returns when a schedule must pause
//     for human-supplied media instead of failing.
//
// Use these helpers when wiring new collaborator calls so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
