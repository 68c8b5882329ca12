// Package scheduler owns the poll loop that drives time for cadence.
//
// Every tick reads the automation settings, claims due schedules and hands
// them to the pipeline executor, resumes schedules whose manual media has
// arrived, finishes derivative jobs, recovers stranded uploads, dispatches
// admission-queue tasks to registered handlers, and periodically runs queue
// maintenance. A single-flight guard keeps ticks from overlapping.
package scheduler
