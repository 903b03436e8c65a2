package jobeval

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aivle/evalworker/internal/metrics"
	"github.com/aivle/evalworker/internal/sandbox"
	"github.com/aivle/evalworker/pkg/types"
)

// imageSetter is implemented by sandbox backends (the container backend)
// that need the resolved image communicated ahead of Start, since the
// shared sandbox.Backend contract has no notion of "image" beyond
// PrepareImage/ImageSize. Backends that don't need it (venv) simply don't
// implement it, and Executor skips the call.
type imageSetter interface {
	SetImage(sb *sandbox.Sandbox, imageRef string)
}

// Executor runs one Runnable to completion against a single sandbox.Backend.
// Grounded on the reference Runnable.run() phase sequence: pull, setup, run,
// teardown, each under its own wall-clock budget.
type Executor struct {
	Backend sandbox.Backend
}

func NewExecutor(backend sandbox.Backend) *Executor {
	return &Executor{Backend: backend}
}

// Run drives cfg through every phase. On success it returns a non-nil
// Result and a nil error. On failure it returns a ClassifiedError, except
// that a sandbox Create failure is returned as a plain wrapped error; if the
// error is *OutputPersistError, Result is also non-nil and carries the
// result the runner actually produced before the persist step failed.
func (e *Executor) Run(ctx context.Context, cfg types.RunnableConfig) (*types.Result, error) {
	name, err := sandboxName(cfg)
	if err != nil {
		return nil, err
	}

	volumes := []sandbox.Volume{
		{HostPath: cfg.RunnerKitPath, MountPath: fmt.Sprintf("/%s/runner", name)},
		{HostPath: cfg.AgentZipPath, MountPath: fmt.Sprintf("/%s/agent.zip", name)},
		{HostPath: cfg.SuiteZipPath, MountPath: fmt.Sprintf("/%s/suite.zip", name)},
	}

	logf(cfg, "running sandbox %s: runner=%s image=%s", name, cfg.Runner, cfg.Image)

	var sb *sandbox.Sandbox
	defer func() {
		if sb == nil {
			return
		}
		destroyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		logf(cfg, "destroying sandbox %s", name)
		if err := e.Backend.Destroy(destroyCtx, sb); err != nil {
			logf(cfg, "destroy %s failed: %v", name, err)
		}
	}()

	pullStart := time.Now()
	sb, err = e.pull(ctx, cfg, name, volumes)
	observePhase("pull", cfg.Runner, pullStart)
	if err != nil {
		return nil, err
	}

	setupStart := time.Now()
	err = e.setup(ctx, cfg, sb)
	observePhase("setup", cfg.Runner, setupStart)
	if err != nil {
		return nil, err
	}

	runStart := time.Now()
	result, err := e.runAndPersist(ctx, cfg, sb)
	observePhase("run", cfg.Runner, runStart)
	return result, err
}

// observePhase records how long one pipeline phase took, labeled by the
// runner kind, for the evalworker_phase_duration_seconds histogram.
func observePhase(phase string, runner types.RunnerKind, start time.Time) {
	metrics.PhaseDuration.WithLabelValues(phase, string(runner)).Observe(time.Since(start).Seconds())
}

// pull resolves and sizes the image, then creates and starts the sandbox —
// spec §4.2 P1.1-P1.4 in order. Create/Start only happen once the image has
// cleared the size check, matching the reference Runnable.run's sequencing.
func (e *Executor) pull(ctx context.Context, cfg types.RunnableConfig, name string, volumes []sandbox.Volume) (*sandbox.Sandbox, error) {
	if cfg.Runner == types.RunnerDocker && cfg.Image == "" {
		return nil, NewImageNotFoundError("no image specified for docker runner")
	}

	pctx, cancel := context.WithTimeout(ctx, cfg.PullTimeLimit)
	defer cancel()

	logf(cfg, "pulling image %s", cfg.Image)
	if err := e.Backend.PrepareImage(pctx, cfg.Image); err != nil {
		if pctx.Err() == context.DeadlineExceeded {
			return nil, NewTimeoutExceededError("pull")
		}
		return nil, NewImageNotFoundError(err.Error())
	}

	size, err := e.Backend.ImageSize(pctx, cfg.Image)
	if err != nil {
		return nil, NewImageNotFoundError(err.Error())
	}
	if cfg.MaxImageSizeKB > 0 && size > cfg.MaxImageSizeKB {
		return nil, NewMaxImageSizeExceededError(size, cfg.MaxImageSizeKB)
	}

	sb, err := e.Backend.Create(pctx, name, volumes)
	if err != nil {
		if pctx.Err() == context.DeadlineExceeded {
			return nil, NewTimeoutExceededError("pull")
		}
		return nil, fmt.Errorf("create sandbox %s: %w", name, err)
	}

	if setter, ok := e.Backend.(imageSetter); ok {
		setter.SetImage(sb, cfg.Image)
	}

	if err := e.Backend.Start(pctx, sb); err != nil {
		if pctx.Err() == context.DeadlineExceeded {
			return sb, NewTimeoutExceededError("pull")
		}
		return sb, NewImageNotFoundError(err.Error())
	}
	return sb, nil
}

func (e *Executor) setup(ctx context.Context, cfg types.RunnableConfig, sb *sandbox.Sandbox) error {
	sctx, cancel := context.WithTimeout(ctx, cfg.SetupTimeLimit)
	defer cancel()

	if _, err := e.pipInstall(sctx, cfg, sb, sb.MountPath("runner")); err != nil {
		if sctx.Err() == context.DeadlineExceeded {
			return NewTimeoutExceededError("setup")
		}
		return NewRunnerInstallError(err.Error())
	}

	if cfg.Runner == types.RunnerPython {
		if err := e.Backend.Disconnect(sctx, sb, "bridge"); err != nil {
			return NewAgentInstallError(err.Error())
		}
		if _, err := e.pipInstall(sctx, cfg, sb, sb.MountPath("agent")); err != nil {
			if sctx.Err() == context.DeadlineExceeded {
				return NewTimeoutExceededError("setup")
			}
			return NewAgentInstallError(err.Error())
		}
		if err := e.Backend.Connect(sctx, sb, "bridge"); err != nil {
			return NewAgentInstallError(err.Error())
		}
	}

	if _, err := e.pipInstall(sctx, cfg, sb, sb.MountPath("suite")); err != nil {
		if sctx.Err() == context.DeadlineExceeded {
			return NewTimeoutExceededError("setup")
		}
		return NewSuiteInstallError(err.Error())
	}
	return nil
}

// pipInstall installs target directly (`pip install <target>`), matching
// the reference pip_install's default r=False — the mount is a package
// directory or zip, never a requirements-file listing.
func (e *Executor) pipInstall(ctx context.Context, cfg types.RunnableConfig, sb *sandbox.Sandbox, target string) (sandbox.ExecResult, error) {
	argv := []string{"pip", "install", target}

	logf(cfg, "running command: %v", argv)
	res, err := e.Backend.Exec(ctx, sb, sandbox.Command{Argv: argv})
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, fmt.Errorf("%s", res.Output)
	}
	return res, nil
}

func (e *Executor) runAndPersist(ctx context.Context, cfg types.RunnableConfig, sb *sandbox.Sandbox) (*types.Result, error) {
	rctx, cancel := context.WithTimeout(ctx, cfg.RunTimeLimit)
	defer cancel()

	logf(cfg, "running command: runner")
	res, err := e.Backend.Exec(rctx, sb, sandbox.Command{Argv: []string{"runner"}})
	if err != nil {
		if rctx.Err() == context.DeadlineExceeded {
			return nil, NewTimeoutExceededError("run")
		}
		return nil, NewRunnerError(err.Error())
	}
	if res.ExitCode != 0 {
		if rctx.Err() == context.DeadlineExceeded {
			return nil, NewTimeoutExceededError("run")
		}
		return nil, NewRunnerError(res.Output)
	}

	var result types.Result
	if err := json.Unmarshal([]byte(res.Output), &result); err != nil {
		return nil, NewMalformedOutputError(err.Error(), res.Output)
	}

	outPath := filepath.Join(cfg.OutputRoot, cfg.TaskID, cfg.JobID+".json")
	if err := persistOutput(outPath, res.Output); err != nil {
		// The result was computed successfully; only its persistence failed.
		// Still fatal for the job, but the caller can report the score that
		// was actually produced alongside the classified failure.
		return &result, NewOutputPersistError(err.Error())
	}

	return &result, nil
}

func persistOutput(path, raw string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(raw), 0o644)
}

func sandboxName(cfg types.RunnableConfig) (string, error) {
	if cfg.Runner != types.RunnerPython && cfg.Runner != types.RunnerDocker {
		return "", NewUnexpectedRunnerTypeError(string(cfg.Runner))
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	return fmt.Sprintf("aivle-runner-ts-%s-a-%s-%s", cfg.TaskID, cfg.JobID, suffix), nil
}

func logf(cfg types.RunnableConfig, format string, args ...interface{}) {
	log.Printf("[task=%s agent=%s] "+format, append([]interface{}{cfg.TaskID, cfg.JobID}, args...)...)
}
