// Package jobeval implements the Runnable Executor (C2): it drives one
// job through the pull / setup / run / teardown phases against a
// sandbox.Backend, enforcing a wall-clock timeout per phase and classifying
// every failure into the closed error taxonomy the Job Runner (C3) reports
// to the coordinator. Grounded on the reference platform's Runnable.run()
// state machine, with the original's SIGALRM-based time_limit replaced by
// per-phase context.WithTimeout/exec.CommandContext deadlines.
package jobeval

import "fmt"

// ClassifiedError is any error carrying the taxonomy kind and string
// arguments the coordinator expects in Report.Notes, mirroring the
// reference implementation's `{type: type(e).__name__, args: e.args}`.
type ClassifiedError interface {
	error
	Kind() string
	Args() []string
}

type baseError struct {
	kind string
	args []string
}

func (e *baseError) Kind() string   { return e.kind }
func (e *baseError) Args() []string { return e.args }
func (e *baseError) Error() string {
	if len(e.args) == 0 {
		return e.kind
	}
	return fmt.Sprintf("%s: %v", e.kind, e.args)
}

// ImageNotFoundError: a Docker-runner job referenced an image that could
// not be resolved or pulled.
type ImageNotFoundError struct{ baseError }

func NewImageNotFoundError(detail string) *ImageNotFoundError {
	return &ImageNotFoundError{baseError{kind: "ImageNotFound", args: argsOf(detail)}}
}

// UnexpectedRunnerTypeError: the job named a runner kind outside {PY, DO}.
type UnexpectedRunnerTypeError struct{ baseError }

func NewUnexpectedRunnerTypeError(kind string) *UnexpectedRunnerTypeError {
	return &UnexpectedRunnerTypeError{baseError{kind: "UnexpectedRunnerType", args: argsOf(kind)}}
}

// MaxImageSizeExceededError: the resolved image exceeds the task's
// configured size ceiling.
type MaxImageSizeExceededError struct{ baseError }

func NewMaxImageSizeExceededError(sizeKB, limitKB int64) *MaxImageSizeExceededError {
	return &MaxImageSizeExceededError{baseError{
		kind: "MaxImageSizeExceeded",
		args: []string{fmt.Sprintf("%d", sizeKB), fmt.Sprintf("%d", limitKB)},
	}}
}

// TimeoutExceededError: a phase ran past its configured wall-clock budget.
type TimeoutExceededError struct {
	baseError
	Phase string
}

func NewTimeoutExceededError(phase string) *TimeoutExceededError {
	return &TimeoutExceededError{
		baseError: baseError{kind: "TimeoutExceeded", args: []string{phase}},
		Phase:     phase,
	}
}

// RunnerInstallError: installing the trusted runner kit into the sandbox
// failed.
type RunnerInstallError struct{ baseError }

func NewRunnerInstallError(output string) *RunnerInstallError {
	return &RunnerInstallError{baseError{kind: "RunnerInstallError", args: argsOf(output)}}
}

// AgentInstallError: installing the submitted agent bundle failed.
type AgentInstallError struct{ baseError }

func NewAgentInstallError(output string) *AgentInstallError {
	return &AgentInstallError{baseError{kind: "AgentInstallError", args: argsOf(output)}}
}

// SuiteInstallError: installing the grading suite bundle failed.
type SuiteInstallError struct{ baseError }

func NewSuiteInstallError(output string) *SuiteInstallError {
	return &SuiteInstallError{baseError{kind: "SuiteInstallError", args: argsOf(output)}}
}

// RunnerError: the runner entrypoint exited non-zero.
type RunnerError struct{ baseError }

func NewRunnerError(output string) *RunnerError {
	return &RunnerError{baseError{kind: "RunnerError", args: argsOf(output)}}
}

// MalformedOutputError: the runner exited cleanly but its stdout was not
// valid JSON.
type MalformedOutputError struct{ baseError }

func NewMalformedOutputError(parseErr, output string) *MalformedOutputError {
	return &MalformedOutputError{baseError{kind: "MalformedOutputError", args: []string{parseErr, output}}}
}

// OutputPersistError: the runner produced a well-formed result but writing
// it to the outputs directory failed. This kind has no counterpart in the
// closed taxonomy table; it is an addition documented in DESIGN.md. The
// job is still reported as failed, but the already-computed Result is not
// discarded — see Executor.Run's return contract.
type OutputPersistError struct{ baseError }

func NewOutputPersistError(detail string) *OutputPersistError {
	return &OutputPersistError{baseError{kind: "OutputPersistError", args: argsOf(detail)}}
}

// TransportError: a coordinator HTTP call failed (network error or
// unexpected status). Raised by internal/jobrunner when a coordinator call
// returns an error, not by the executor, but classified here alongside the rest of the taxonomy it shares with
// Report.Notes.
type TransportError struct{ baseError }

func NewTransportError(detail string) *TransportError {
	return &TransportError{baseError{kind: "TransportError", args: argsOf(detail)}}
}

func argsOf(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
