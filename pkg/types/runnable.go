package types

import (
	"encoding/json"
	"time"
)

// RunnableConfig is the fully-resolved execution context for one job,
// assembled by the Job Runner (C3) and handed to the Runnable Executor (C2).
type RunnableConfig struct {
	TaskID  string
	JobID   string // == agent id
	Runner  RunnerKind
	Image   string // resolved image ref; required iff Runner == RunnerDocker

	PullTimeLimit  time.Duration
	SetupTimeLimit time.Duration
	RunTimeLimit   time.Duration
	MaxImageSizeKB int64

	RunnerKitPath string // host path to the trusted runner kit, mounted read-only
	AgentZipPath  string // host path to the agent bundle zip
	SuiteZipPath  string // host path to the suite bundle zip

	OutputRoot string // base dir for outputs/<task_id>/<job_id>.json

	Metadata map[string]string // arbitrary tags; the executor does not read them or add them to its log lines
}

// Result is the successful outcome of a Runnable: a score plus the runner's
// raw per-test-case notes, already decoded from the runner's stdout JSON.
type Result struct {
	Point     float64         `json:"point"`
	TestCases json.RawMessage `json:"test_cases"`
}
