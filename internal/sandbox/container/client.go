// Package container implements the sandbox.Backend contract on top of a
// container-runtime CLI (docker or podman — whichever binary is configured).
// It is the Go-side descendant of the reference platform's podman wrapper:
// every operation shells out to the CLI (parsing its JSON output where a
// structured answer is needed, as for image inspect) rather than linking a
// runtime-specific SDK, so the same code works unmodified against either
// runtime.
package container

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// CLI wraps a container-runtime binary (docker, podman, ...) for the
// handful of subcommands the sandbox backend needs.
type CLI struct {
	binaryPath string
}

// NewCLI locates the given binary (e.g. "docker", "podman") in PATH.
func NewCLI(binary string) (*CLI, error) {
	if binary == "" {
		binary = "docker"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", binary, err)
	}
	return &CLI{binaryPath: path}, nil
}

// Result holds the output from a CLI invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes the runtime CLI and returns the result. A non-zero exit code
// is reported via Result.ExitCode, not as a Go error — only a failure to
// even start the process (binary missing, broken pipe, ...) is an error.
func (c *CLI) Run(ctx context.Context, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.binaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("%s exec failed: %w", c.binaryPath, err)
	}
	return result, nil
}

// RunJSON executes the CLI and unmarshals its stdout into dest.
func (c *CLI) RunJSON(ctx context.Context, dest interface{}, args ...string) error {
	result, err := c.Run(ctx, args...)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%s %s failed (exit %d): %s",
			c.binaryPath, strings.Join(args, " "), result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	if err := json.Unmarshal([]byte(result.Stdout), dest); err != nil {
		return fmt.Errorf("failed to parse %s output: %w", c.binaryPath, err)
	}
	return nil
}
