package scheduler

import "time"

// Status is a snapshot of the loop for status endpoints.
type Status struct {
	Running         bool      `json:"running"`
	LastTick        time.Time `json:"last_tick,omitempty"`
	Ticks           int64     `json:"ticks"`
	SkippedTicks    int64     `json:"skipped_ticks"`
	ActivePipelines int       `json:"active_pipelines"`
	ActiveTasks     int64     `json:"active_tasks"`
	LastError       string    `json:"last_error,omitempty"`
	LastMaintenance time.Time `json:"last_maintenance,omitempty"`
}

// Status returns the latest loop information.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Running:         s.running,
		LastTick:        s.lastTick,
		Ticks:           s.seq.Load(),
		SkippedTicks:    s.skipped.Load(),
		ActivePipelines: s.exec.ActiveCount(),
		ActiveTasks:     s.tasks.Load(),
		LastMaintenance: s.lastMaintenance,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
