package jobeval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aivle/evalworker/internal/sandbox"
	"github.com/aivle/evalworker/pkg/types"
)

// fakeBackend is a hand-written in-memory implementation of sandbox.Backend,
// in the style of the teacher's compute.Pool fakes (internal/compute/local.go).
type fakeBackend struct {
	imageSize      int64
	prepareErr     error
	createErr      error
	startErr       error
	execResults    map[string]sandbox.ExecResult // argv[0] -> result
	execErr        error
	destroyed      []string
	connected      map[string]bool
	images         map[string]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		execResults: make(map[string]sandbox.ExecResult),
		connected:   make(map[string]bool),
		images:      make(map[string]string),
	}
}

func (f *fakeBackend) PrepareImage(ctx context.Context, imageRef string) error { return f.prepareErr }
func (f *fakeBackend) ImageSize(ctx context.Context, imageRef string) (int64, error) {
	return f.imageSize, nil
}
func (f *fakeBackend) Create(ctx context.Context, name string, volumes []sandbox.Volume) (*sandbox.Sandbox, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &sandbox.Sandbox{Name: name, Volumes: volumes}, nil
}
func (f *fakeBackend) Start(ctx context.Context, sb *sandbox.Sandbox) error { return f.startErr }
func (f *fakeBackend) Exec(ctx context.Context, sb *sandbox.Sandbox, cmd sandbox.Command) (sandbox.ExecResult, error) {
	if f.execErr != nil {
		return sandbox.ExecResult{}, f.execErr
	}
	key := strings.Join(cmd.Argv, " ")
	for prefix, res := range f.execResults {
		if strings.HasPrefix(key, prefix) {
			return res, nil
		}
	}
	return sandbox.ExecResult{ExitCode: 0}, nil
}
func (f *fakeBackend) Connect(ctx context.Context, sb *sandbox.Sandbox, network string) error {
	f.connected[sb.Name] = true
	return nil
}
func (f *fakeBackend) Disconnect(ctx context.Context, sb *sandbox.Sandbox, network string) error {
	f.connected[sb.Name] = false
	return nil
}
func (f *fakeBackend) Destroy(ctx context.Context, sb *sandbox.Sandbox) error {
	f.destroyed = append(f.destroyed, sb.Name)
	return nil
}
func (f *fakeBackend) SetImage(sb *sandbox.Sandbox, imageRef string) {
	f.images[sb.Name] = imageRef
}

var _ sandbox.Backend = (*fakeBackend)(nil)
var _ imageSetter = (*fakeBackend)(nil)

func baseConfig(t *testing.T, outputRoot string) types.RunnableConfig {
	return types.RunnableConfig{
		TaskID:         "7",
		JobID:          "42",
		Runner:         types.RunnerPython,
		PullTimeLimit:  time.Second,
		SetupTimeLimit: time.Second,
		RunTimeLimit:   time.Second,
		MaxImageSizeKB: 1_000_000,
		RunnerKitPath:  "/host/runner",
		AgentZipPath:   "/host/agent.zip",
		SuiteZipPath:   "/host/suite.zip",
		OutputRoot:     outputRoot,
	}
}

func TestExecutorRunSuccess(t *testing.T) {
	dir := t.TempDir()
	backend := newFakeBackend()
	backend.execResults["runner"] = sandbox.ExecResult{ExitCode: 0, Output: `{"point": 0.75, "test_cases": [{"name": "t1", "pass": true}]}`}

	exec := NewExecutor(backend)
	result, err := exec.Run(context.Background(), baseConfig(t, dir))
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if result.Point != 0.75 {
		t.Errorf("Point = %v, want 0.75", result.Point)
	}

	outPath := filepath.Join(dir, "7", "42.json")
	if _, err := os.Stat(outPath); err != nil {
		t.Errorf("expected output file at %s: %v", outPath, err)
	}

	if len(backend.destroyed) != 1 {
		t.Errorf("expected sandbox to be destroyed exactly once, got %d", len(backend.destroyed))
	}
	if backend.connected[backend.destroyed[0]] != true {
		t.Errorf("expected python runner sandbox reconnected after agent install")
	}
}

func TestExecutorRunnerErrorOnNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	backend := newFakeBackend()
	backend.execResults["runner"] = sandbox.ExecResult{ExitCode: 1, Output: "boom"}

	exec := NewExecutor(backend)
	_, err := exec.Run(context.Background(), baseConfig(t, dir))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	assertKind(t, err, "RunnerError")
}

func TestExecutorMalformedOutput(t *testing.T) {
	dir := t.TempDir()
	backend := newFakeBackend()
	backend.execResults["runner"] = sandbox.ExecResult{ExitCode: 0, Output: "not json"}

	exec := NewExecutor(backend)
	_, err := exec.Run(context.Background(), baseConfig(t, dir))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	assertKind(t, err, "MalformedOutputError")
}

func TestExecutorMaxImageSizeExceeded(t *testing.T) {
	dir := t.TempDir()
	backend := newFakeBackend()
	backend.imageSize = 2_000_000

	cfg := baseConfig(t, dir)
	cfg.Runner = types.RunnerDocker
	cfg.Image = "some/image:tag"
	cfg.MaxImageSizeKB = 1000

	exec := NewExecutor(backend)
	_, err := exec.Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	assertKind(t, err, "MaxImageSizeExceeded")
}

func TestExecutorImageNotFoundForDockerRunnerWithNoImage(t *testing.T) {
	dir := t.TempDir()
	backend := newFakeBackend()

	cfg := baseConfig(t, dir)
	cfg.Runner = types.RunnerDocker
	cfg.Image = ""

	exec := NewExecutor(backend)
	_, err := exec.Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	assertKind(t, err, "ImageNotFound")
}

func TestExecutorUnexpectedRunnerType(t *testing.T) {
	dir := t.TempDir()
	backend := newFakeBackend()

	cfg := baseConfig(t, dir)
	cfg.Runner = types.RunnerKind("XX")

	exec := NewExecutor(backend)
	_, err := exec.Run(context.Background(), cfg)
	assertKind(t, err, "UnexpectedRunnerType")
}

func assertKind(t *testing.T, err error, wantKind string) {
	t.Helper()
	classified, ok := err.(ClassifiedError)
	if !ok {
		t.Fatalf("expected a ClassifiedError, got %T: %v", err, err)
	}
	if classified.Kind() != wantKind {
		t.Errorf("Kind() = %q, want %q", classified.Kind(), wantKind)
	}
}
