// Package sandbox defines the uniform contract the Runnable Executor (C2)
// drives: provision an isolated environment, run commands in it, toggle its
// network reachability, and tear it down. Two implementations exist —
// internal/sandbox/container (a container runtime) and internal/sandbox/venv
// (a process-level virtual environment, optionally filesystem/network
// jailed) — selected once at worker startup. Upper layers depend only on
// this interface, never on a concrete backend.
package sandbox

import "context"

// Volume records one read-only bind: a path on the host exposed at
// MountPath inside the sandbox.
type Volume struct {
	HostPath  string
	MountPath string // absolute path as seen from inside the sandbox
}

// Command is a structured argv. Any element that equals a volume's
// MountPath verbatim is resolved by the backend to wherever that volume
// actually lives for the running sandbox flavor — no textual/regex rewriting
// of partial strings.
type Command struct {
	Argv []string
}

// ExecResult is the outcome of running a Command inside a sandbox.
type ExecResult struct {
	ExitCode int
	// Output is the command's stderr if non-empty, otherwise stdout —
	// mirroring the reference runner's convention of preferring whichever
	// stream actually carries diagnostic content.
	Output string
}

// Sandbox is an opaque handle returned by Create. Callers pass it back into
// every other Backend method; they must not inspect its fields.
type Sandbox struct {
	Name    string
	Volumes []Volume
}

// MountPath returns the in-sandbox path bound for the volume with the given
// label (as passed to Create), or "" if no such volume exists.
func (s *Sandbox) MountPath(label string) string {
	for _, v := range s.Volumes {
		if v.MountPath != "" && pathLabel(v.MountPath) == label {
			return v.MountPath
		}
	}
	return ""
}

func pathLabel(mountPath string) string {
	// Mount paths are always "/<sandbox-name>/<label>[.zip]"; the label is
	// the final path element with any .zip suffix stripped.
	i := len(mountPath) - 1
	for i >= 0 && mountPath[i] != '/' {
		i--
	}
	name := mountPath[i+1:]
	const zipSuffix = ".zip"
	if len(name) > len(zipSuffix) && name[len(name)-len(zipSuffix):] == zipSuffix {
		name = name[:len(name)-len(zipSuffix)]
	}
	return name
}

// Backend is the uniform sandbox lifecycle contract. See package docs.
type Backend interface {
	// PrepareImage ensures the base environment identified by imageRef is
	// available locally (container: registry pull; venv: runtime version
	// install, may be a no-op if pre-provisioned).
	PrepareImage(ctx context.Context, imageRef string) error

	// ImageSize returns a best-effort size in kilobytes. The venv backend
	// may always report 0.
	ImageSize(ctx context.Context, imageRef string) (int64, error)

	// Create produces an unstarted sandbox with a unique name and the given
	// read-only volume bindings.
	Create(ctx context.Context, name string, volumes []Volume) (*Sandbox, error)

	// Start materializes the sandbox so Exec can run against it.
	Start(ctx context.Context, sb *Sandbox) error

	// Exec runs cmd inside sb and blocks until completion or ctx is done.
	Exec(ctx context.Context, sb *Sandbox, cmd Command) (ExecResult, error)

	// Connect/Disconnect toggle outbound network access for sb.
	Connect(ctx context.Context, sb *Sandbox, network string) error
	Disconnect(ctx context.Context, sb *Sandbox, network string) error

	// Destroy idempotently releases every resource tied to sb. Safe to call
	// on a sandbox that was never started.
	Destroy(ctx context.Context, sb *Sandbox) error
}
