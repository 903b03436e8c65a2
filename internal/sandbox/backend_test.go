package sandbox

import "testing"

func TestSandboxMountPath(t *testing.T) {
	sb := &Sandbox{
		Name: "aivle-runner-ts-1-a-2-abc",
		Volumes: []Volume{
			{HostPath: "/host/runner", MountPath: "/aivle-runner-ts-1-a-2-abc/runner"},
			{HostPath: "/host/agent.zip", MountPath: "/aivle-runner-ts-1-a-2-abc/agent.zip"},
			{HostPath: "/host/suite.zip", MountPath: "/aivle-runner-ts-1-a-2-abc/suite.zip"},
		},
	}

	cases := map[string]string{
		"runner": "/aivle-runner-ts-1-a-2-abc/runner",
		"agent":  "/aivle-runner-ts-1-a-2-abc/agent.zip",
		"suite":  "/aivle-runner-ts-1-a-2-abc/suite.zip",
		"bogus":  "",
	}

	for label, want := range cases {
		if got := sb.MountPath(label); got != want {
			t.Errorf("MountPath(%q) = %q, want %q", label, got, want)
		}
	}
}

func TestPathLabelStripsZipSuffix(t *testing.T) {
	cases := map[string]string{
		"/sb/runner":    "runner",
		"/sb/agent.zip": "agent",
		"/sb/suite.zip": "suite",
		"/a/b/c":        "c",
	}
	for path, want := range cases {
		if got := pathLabel(path); got != want {
			t.Errorf("pathLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
