// Package pipeline drives a claimed schedule through its four stages:
// script, video, upload, publish.
//
// The Executor calls the production collaborators with bounded retries,
// records every transition in the catalog, and isolates failures to the one
// schedule. A title in manual media mode parks after the script stage with a
// project artifact on disk and a media-crawl task in the admission queue; a
// render that reports services.ErrAwaitingInput parks the same way. Neither
// pause is a failure. After a long-form upload the executor asynchronously
// requests a short-form derivative and records it for the scheduler to finish.
package pipeline
