// Package types holds the wire-level data model shared between the worker
// and the coordinator: jobs, tasks, sandbox configuration, and reports.
package types

import "encoding/json"

// RunnerKind identifies which sandbox flavor a job requires.
type RunnerKind string

const (
	RunnerPython RunnerKind = "PY"
	RunnerDocker RunnerKind = "DO"
)

// Job is one evaluation request pulled from the coordinator's pending queue.
type Job struct {
	ID      string     `json:"id"`
	Task    string     `json:"task"` // absolute URL to the Task resource
	Runner  RunnerKind `json:"runner"`
	FileURL string     `json:"file_url"` // agent bundle download URL
	Docker  string     `json:"docker,omitempty"`
}

// UnmarshalJSON accepts the coordinator's id either as a JSON number or as a
// JSON string, mirroring the reference platform's str(id) coercion — the
// worker only ever uses ids as path/URL components, never does arithmetic
// on them.
func (j *Job) UnmarshalJSON(data []byte) error {
	type alias Job
	aux := &struct {
		ID json.Number `json:"id"`
		*alias
	}{alias: (*alias)(j)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	j.ID = aux.ID.String()
	return nil
}

// Task is the grading specification referenced by a Job. Immutable from the
// worker's point of view.
type Task struct {
	ID             string `json:"id"`
	FileURL        string `json:"file_url"`
	FileHash       string `json:"file_hash"` // md5 hex of the suite zip
	RunTimeLimit   int    `json:"run_time_limit"` // seconds
	MaxImageSizeKB int    `json:"max_image_size"`  // kilobytes
}

// UnmarshalJSON accepts the coordinator's id either as a JSON number or as a
// JSON string; see Job.UnmarshalJSON.
func (t *Task) UnmarshalJSON(data []byte) error {
	type alias Task
	aux := &struct {
		ID json.Number `json:"id"`
		*alias
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	t.ID = aux.ID.String()
	return nil
}
