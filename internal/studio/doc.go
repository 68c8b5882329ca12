// Package studio is the HTTP client for the production services: script
// generation, rendering, upload, publish scheduling, derivative jobs, and
// asset crawling. A single Client satisfies every pipeline collaborator
// contract.
//
// Reads retry inside the transport. Writes do not: each stage attempt sends
// a POST exactly once, and only the pipeline's stage retry policy re-sends
// it. A write that timed out after the studio accepted it can therefore be
// sent again by the next stage attempt, so the studio is expected to treat a
// repeated upload or publish for the same video as the same request.
package studio
