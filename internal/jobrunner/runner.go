// Package jobrunner implements the Job Runner (C3): given one claimed Job,
// it fetches the Task, ensures the suite and agent bundles are present
// locally, drives the Runnable Executor, and reports the terminal status
// back to the coordinator with retry. Grounded on the reference platform's
// watcher.JobRunner, one method per original step.
package jobrunner

import (
	"context"
	"encoding/json"
	"log"
	"path/filepath"
	"time"

	"github.com/aivle/evalworker/internal/coordinator"
	"github.com/aivle/evalworker/internal/events"
	"github.com/aivle/evalworker/internal/jobeval"
	"github.com/aivle/evalworker/internal/metrics"
	"github.com/aivle/evalworker/pkg/types"
)

// Config holds the host paths and limits the Job Runner needs to resolve a
// job into a RunnableConfig and to place downloaded bundles on disk.
type Config struct {
	WorkerID string

	AgentsPath    string
	SuitesPath    string
	OutputRoot    string
	RunnerKitPath string

	DefaultPythonImage string

	PullTimeLimit  time.Duration
	SetupTimeLimit time.Duration

	MaxRetries int
	RetryDelay time.Duration
}

// Runner drives a single Job through get-task, download, execute, report.
type Runner struct {
	API      *coordinator.Client
	Executor *jobeval.Executor
	Cfg      Config

	// Events is optional; when nil no lifecycle events are published.
	Events *events.Publisher
}

func New(api *coordinator.Client, executor *jobeval.Executor, cfg Config) *Runner {
	return &Runner{API: api, Executor: executor, Cfg: cfg}
}

// Run executes the full job lifecycle. It never returns an error: every
// failure is classified, folded into a Report, and posted to the
// coordinator — matching the reference JobRunner.run's try/except/finally
// shape, where the only observable outcome is the reported Report.
func (r *Runner) Run(ctx context.Context, job types.Job) {
	metrics.RunnablesActive.WithLabelValues(r.Cfg.WorkerID).Inc()
	defer metrics.RunnablesActive.WithLabelValues(r.Cfg.WorkerID).Dec()

	task, runErr := r.getTask(ctx, job)

	var taskID string
	var result *types.Result
	if runErr == nil {
		taskID = task.ID
		runErr = r.markRunning(ctx, job)
		if runErr == nil {
			r.publish("claimed", job.ID, taskID, nil)
		}
	}
	if runErr == nil {
		runErr = r.maybeDownloadSuite(ctx, *task)
	}
	if runErr == nil {
		runErr = r.maybeDownloadAgent(ctx, job)
	}
	if runErr == nil {
		result, runErr = r.runnableRun(ctx, job, *task)
	}

	report := r.process(job, result, runErr)
	r.publishTerminal(job.ID, taskID, report)
	r.end(ctx, job, report)
}

func (r *Runner) getTask(ctx context.Context, job types.Job) (*types.Task, error) {
	task, err := r.API.GetTask(ctx, job.Task)
	if err != nil {
		return nil, jobeval.NewTransportError(err.Error())
	}
	return task, nil
}

func (r *Runner) markRunning(ctx context.Context, job types.Job) error {
	if err := r.API.MarkRunning(ctx, job.ID); err != nil {
		return jobeval.NewTransportError(err.Error())
	}
	return nil
}

func (r *Runner) suitePath(taskID string) string {
	return filepath.Join(r.Cfg.SuitesPath, taskID+".zip")
}

func (r *Runner) agentPath(jobID string) string {
	return filepath.Join(r.Cfg.AgentsPath, jobID+".zip")
}

// maybeDownloadSuite downloads the suite bundle if missing, then verifies
// its hash. On mismatch it re-downloads exactly once and does not re-verify
// the result — matching the reference implementation, which trusts the
// second download unconditionally.
func (r *Runner) maybeDownloadSuite(ctx context.Context, task types.Task) error {
	path := r.suitePath(task.ID)

	if !fileExists(path) {
		log.Printf("[task=%s] suite not found, downloading", task.ID)
		if err := r.API.Download(ctx, task.FileURL, path); err != nil {
			return jobeval.NewSuiteInstallError(err.Error())
		}
	}

	digest, err := hashFile(path)
	if err != nil {
		return jobeval.NewSuiteInstallError(err.Error())
	}
	if digest == task.FileHash {
		return nil
	}

	log.Printf("[task=%s] suite hash mismatch (%s != %s), updating", task.ID, digest, task.FileHash)
	if err := r.API.Download(ctx, task.FileURL, path); err != nil {
		return jobeval.NewSuiteInstallError(err.Error())
	}
	return nil
}

// maybeDownloadAgent always re-downloads the agent bundle for a Python
// runner job, overwriting any existing file with no hash check — matching
// the reference implementation's maybe_download_agent.
func (r *Runner) maybeDownloadAgent(ctx context.Context, job types.Job) error {
	if job.Runner != types.RunnerPython {
		return nil
	}
	log.Printf("[job=%s] python runner, downloading agent", job.ID)
	if err := r.API.Download(ctx, job.FileURL, r.agentPath(job.ID)); err != nil {
		return jobeval.NewAgentInstallError(err.Error())
	}
	return nil
}

func (r *Runner) runnableRun(ctx context.Context, job types.Job, task types.Task) (*types.Result, error) {
	image := ""
	if job.Runner == types.RunnerDocker {
		image = job.Docker
	} else {
		image = r.Cfg.DefaultPythonImage
	}

	cfg := types.RunnableConfig{
		TaskID:         task.ID,
		JobID:          job.ID,
		Runner:         job.Runner,
		Image:          image,
		PullTimeLimit:  r.Cfg.PullTimeLimit,
		SetupTimeLimit: r.Cfg.SetupTimeLimit,
		RunTimeLimit:   time.Duration(task.RunTimeLimit) * time.Second,
		MaxImageSizeKB: int64(task.MaxImageSizeKB),
		RunnerKitPath:  r.Cfg.RunnerKitPath,
		AgentZipPath:   r.agentPath(job.ID),
		SuiteZipPath:   r.suitePath(task.ID),
		OutputRoot:     r.Cfg.OutputRoot,
	}

	return r.Executor.Run(ctx, cfg)
}

// process builds the Report the coordinator expects: on success, Notes is
// the runner's raw test_cases array; on failure, it's the classified error's
// {type, args}. Matches the reference JobRunner.process.
func (r *Runner) process(job types.Job, result *types.Result, runErr error) types.Report {
	if runErr == nil {
		metrics.JobsTotal.WithLabelValues(string(types.JobStatusDone)).Inc()
		point := result.Point
		return types.Report{
			Status: types.JobStatusDone,
			Point:  &point,
			Notes:  string(result.TestCases),
		}
	}

	metrics.JobsTotal.WithLabelValues(string(types.JobStatusError)).Inc()

	classified, ok := runErr.(jobeval.ClassifiedError)
	kind := "Error"
	var args []string
	if ok {
		kind = classified.Kind()
		args = classified.Args()
	} else {
		args = []string{runErr.Error()}
	}
	metrics.ClassifiedErrorsTotal.WithLabelValues(kind).Inc()

	notes, _ := json.Marshal(types.ErrorNotes{Error: types.ErrorDetail{Type: kind, Args: args}})

	report := types.Report{
		Status: types.JobStatusError,
		Point:  nil,
		Notes:  string(notes),
	}

	// OutputPersistError carries a result even though the job is reported as
	// failed: the runner's output was computed and is worth keeping as a
	// point of record, but the coordinator still needs to see the failure.
	if _, persistFailed := runErr.(*jobeval.OutputPersistError); persistFailed && result != nil {
		point := result.Point
		report.Point = &point
	}

	log.Printf("[job=%s] done: status=%s", job.ID, report.Status)
	return report
}

func (r *Runner) end(ctx context.Context, job types.Job, report types.Report) {
	if err := r.API.End(ctx, job.ID, report, r.Cfg.MaxRetries, r.Cfg.RetryDelay); err != nil {
		log.Printf("[job=%s] end failed after retries: %v", job.ID, err)
	}
}

// publish emits one lifecycle event if an event publisher is configured; a
// nil Events is the common case for a worker started without a NATS URL.
func (r *Runner) publish(eventType, jobID, taskID string, payload interface{}) {
	if r.Events == nil {
		return
	}
	r.Events.Publish(eventType, jobID, taskID, payload, time.Now())
}

// publishTerminal emits the "done" or "error" event matching report.Status,
// once the Report has been fully computed.
func (r *Runner) publishTerminal(jobID, taskID string, report types.Report) {
	eventType := "done"
	if report.Status == types.JobStatusError {
		eventType = "error"
	}
	r.publish(eventType, jobID, taskID, report)
}
