package venv

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/aivle/evalworker/internal/sandbox"
)

// requirePython3 skips the test when no python3 is available to create the
// per-sandbox virtualenv, so this suite still passes on a host without one.
func requirePython3(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not found in PATH, skipping")
	}
}

func TestUnjailedStartSymlinksVolumes(t *testing.T) {
	requirePython3(t)
	base := t.TempDir()
	b, err := New(base, false)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	hostFile := filepath.Join(t.TempDir(), "agent.zip")
	if err := os.WriteFile(hostFile, []byte("zip-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	sb, err := b.Create(context.Background(), "sb1", []sandbox.Volume{
		{HostPath: hostFile, MountPath: "/sb1/agent.zip"},
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := b.Start(context.Background(), sb); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	linked := filepath.Join(base, "sb1", "agent.zip")
	info, err := os.Lstat(linked)
	if err != nil {
		t.Fatalf("Lstat(%s): %v", linked, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("%s is not a symlink in unjailed mode", linked)
	}

	data, err := os.ReadFile(linked)
	if err != nil {
		t.Fatalf("ReadFile through symlink: %v", err)
	}
	if string(data) != "zip-bytes" {
		t.Fatalf("content = %q, want zip-bytes", data)
	}
}

func TestJailedStartCopiesVolumes(t *testing.T) {
	requirePython3(t)
	base := t.TempDir()
	b, err := New(base, true)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	hostFile := filepath.Join(t.TempDir(), "suite.zip")
	if err := os.WriteFile(hostFile, []byte("suite-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	sb, err := b.Create(context.Background(), "sb2", []sandbox.Volume{
		{HostPath: hostFile, MountPath: "/sb2/suite.zip"},
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := b.Start(context.Background(), sb); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	copied := filepath.Join(base, "sb2", "suite.zip")
	info, err := os.Lstat(copied)
	if err != nil {
		t.Fatalf("Lstat(%s): %v", copied, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Fatalf("%s is a symlink, want a real copy in jailed mode", copied)
	}
}

func TestExecRewritesMountPathArgs(t *testing.T) {
	base := t.TempDir()
	b, err := New(base, false)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	sb, err := b.Create(context.Background(), "sb3", []sandbox.Volume{
		{HostPath: "/host/runner", MountPath: "/sb3/runner"},
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	dir, err := b.dirOf("sb3")
	if err != nil {
		t.Fatal(err)
	}

	resolved := b.resolveArg(sb, dir, "/sb3/runner")
	want := filepath.Join(dir, "runner")
	if resolved != want {
		t.Fatalf("resolveArg(mount path) = %q, want %q", resolved, want)
	}

	// An argument that merely contains the mount path as a substring must
	// pass through unchanged — no textual/regex rewriting.
	passthrough := b.resolveArg(sb, dir, "echo /sb3/runner/extra")
	if passthrough != "echo /sb3/runner/extra" {
		t.Fatalf("resolveArg(substring) = %q, want unchanged", passthrough)
	}
}

func TestConnectDisconnectTracksPerSandboxState(t *testing.T) {
	base := t.TempDir()
	b, err := New(base, true)
	if err != nil {
		t.Fatal(err)
	}
	sb, err := b.Create(context.Background(), "sb4", nil)
	if err != nil {
		t.Fatal(err)
	}

	if b.nets["sb4"] {
		t.Fatal("sandbox should start disconnected")
	}
	if err := b.Connect(context.Background(), sb, "bridge"); err != nil {
		t.Fatal(err)
	}
	if !b.nets["sb4"] {
		t.Fatal("Connect did not mark sandbox as connected")
	}
	if err := b.Disconnect(context.Background(), sb, "bridge"); err != nil {
		t.Fatal(err)
	}
	if b.nets["sb4"] {
		t.Fatal("Disconnect did not mark sandbox as disconnected")
	}
}

func TestDestroyIsIdempotentAndRemovesWorkingDir(t *testing.T) {
	base := t.TempDir()
	b, err := New(base, false)
	if err != nil {
		t.Fatal(err)
	}
	sb, err := b.Create(context.Background(), "sb5", nil)
	if err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(base, "sb5")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("sandbox dir should exist after Create: %v", err)
	}

	if err := b.Destroy(context.Background(), sb); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("sandbox dir still exists after Destroy: err=%v", err)
	}

	// Destroying an already-destroyed (or never-started) sandbox must not error.
	if err := b.Destroy(context.Background(), &sandbox.Sandbox{Name: "sb5"}); err != nil {
		t.Fatalf("Destroy() on unknown sandbox should be a no-op, got error: %v", err)
	}
}
