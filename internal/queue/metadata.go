package queue

import (
	"encoding/json"
	"fmt"
)

// Metadata is the structured payload carried by a task. Extra holds fields
// from producers this package does not know about.
type Metadata struct {
	ScheduleID int64          `json:"schedule_id,omitempty"`
	TitleID    int64          `json:"title_id,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	ProjectDir string         `json:"project_dir,omitempty"`
	Keywords   []string       `json:"keywords,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// IsZero reports whether no field is set.
func (m Metadata) IsZero() bool {
	return m.ScheduleID == 0 && m.TitleID == 0 && m.RunID == "" && m.ProjectDir == "" &&
		len(m.Keywords) == 0 && len(m.Extra) == 0
}

func encodeMetadata(m Metadata) (any, error) {
	if m.IsZero() {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode task metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(raw string) (Metadata, error) {
	var m Metadata
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Metadata{}, fmt.Errorf("decode task metadata: %w", err)
	}
	return m, nil
}

func decodeLogs(raw string) []LogLine {
	if raw == "" {
		return nil
	}
	var lines []LogLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil
	}
	return lines
}
