package container

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aivle/evalworker/internal/sandbox"
)

// Backend implements sandbox.Backend on top of a container-runtime CLI.
// Containers are created with no network attached; Connect/Disconnect
// attach or detach a single bridge network around the phases that need it.
// Grounded on the reference platform's podman.Client/ContainerConfig split,
// generalized to target whichever runtime binary is configured.
type Backend struct {
	cli *CLI

	mu     sync.Mutex
	images map[string]string // sandbox name -> image ref, for cleanup on Destroy
}

var _ sandbox.Backend = (*Backend)(nil)

// New builds a container Backend against the given runtime binary
// ("docker" or "podman"); empty defaults to "docker".
func New(binary string) (*Backend, error) {
	cli, err := NewCLI(binary)
	if err != nil {
		return nil, err
	}
	return &Backend{cli: cli, images: make(map[string]string)}, nil
}

func (b *Backend) PrepareImage(ctx context.Context, imageRef string) error {
	result, err := b.cli.Run(ctx, "pull", imageRef)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("pull %s failed: %s", imageRef, strings.TrimSpace(result.Stderr))
	}
	return nil
}

type inspectImage struct {
	Size int64 `json:"Size"`
}

func (b *Backend) ImageSize(ctx context.Context, imageRef string) (int64, error) {
	var out []inspectImage
	if err := b.cli.RunJSON(ctx, &out, "image", "inspect", imageRef); err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("image %s not found", imageRef)
	}
	return out[0].Size / 1000, nil
}

// Create only records the intended shape of the sandbox; no runtime call is
// made until Start, matching the Backend contract's "unstarted sandbox".
func (b *Backend) Create(ctx context.Context, name string, volumes []sandbox.Volume) (*sandbox.Sandbox, error) {
	return &sandbox.Sandbox{Name: name, Volumes: volumes}, nil
}

// SetImage records the image a sandbox is started from; the caller stashes it
// before Start, since the sandbox.Backend interface has no notion of "image"
// beyond PrepareImage.
func (b *Backend) SetImage(sb *sandbox.Sandbox, imageRef string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.images[sb.Name] = imageRef
}

func (b *Backend) Start(ctx context.Context, sb *sandbox.Sandbox) error {
	b.mu.Lock()
	image := b.images[sb.Name]
	b.mu.Unlock()
	if image == "" {
		return fmt.Errorf("container backend: no image set for sandbox %s", sb.Name)
	}

	args := []string{
		"create",
		"--name", sb.Name,
		"--network", "none",
		"--memory", "512m",
		"--pids-limit", "256",
		"--cap-drop", "ALL",
	}
	for _, v := range sb.Volumes {
		args = append(args, "--volume", fmt.Sprintf("%s:%s:ro", v.HostPath, v.MountPath))
	}
	args = append(args, image, "sleep", "infinity")

	result, err := b.cli.Run(ctx, args...)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("create %s failed: %s", sb.Name, strings.TrimSpace(result.Stderr))
	}

	result, err = b.cli.Run(ctx, "start", sb.Name)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("start %s failed: %s", sb.Name, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func (b *Backend) Exec(ctx context.Context, sb *sandbox.Sandbox, cmd sandbox.Command) (sandbox.ExecResult, error) {
	args := append([]string{"exec", sb.Name}, cmd.Argv...)
	result, err := b.cli.Run(ctx, args...)
	if err != nil {
		return sandbox.ExecResult{}, err
	}

	out := result.Stdout
	if strings.TrimSpace(result.Stderr) != "" {
		out = result.Stderr
	}
	return sandbox.ExecResult{ExitCode: result.ExitCode, Output: out}, nil
}

func (b *Backend) Connect(ctx context.Context, sb *sandbox.Sandbox, network string) error {
	result, err := b.cli.Run(ctx, "network", "connect", network, sb.Name)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("connect %s to %s failed: %s", sb.Name, network, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func (b *Backend) Disconnect(ctx context.Context, sb *sandbox.Sandbox, network string) error {
	result, err := b.cli.Run(ctx, "network", "disconnect", network, sb.Name)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		// Already-disconnected is not an error for our purposes; only surface
		// genuine failures (missing network, missing container).
		if strings.Contains(result.Stderr, "not connected") {
			return nil
		}
		return fmt.Errorf("disconnect %s from %s failed: %s", sb.Name, network, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Destroy removes the container unconditionally and deletes its image to
// keep the local cache bounded across jobs. Both calls are best-effort:
// a container or image that is already gone is not an error.
func (b *Backend) Destroy(ctx context.Context, sb *sandbox.Sandbox) error {
	_, _ = b.cli.Run(ctx, "rm", "-f", sb.Name)

	b.mu.Lock()
	image := b.images[sb.Name]
	delete(b.images, sb.Name)
	b.mu.Unlock()

	if image != "" {
		_, _ = b.cli.Run(ctx, "rmi", image)
	}
	return nil
}
