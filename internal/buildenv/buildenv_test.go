package buildenv

import (
	"context"
	"os/exec"
	"runtime"
	"testing"
)

func TestSystem(t *testing.T) {
	sys := System()
	if sys.OS != runtime.GOOS {
		t.Errorf("OS = %q, want %q", sys.OS, runtime.GOOS)
	}
	if sys.Arch != runtime.GOARCH {
		t.Errorf("Arch = %q, want %q", sys.Arch, runtime.GOARCH)
	}
	if sys.CPUs < 1 {
		t.Errorf("CPUs = %d, want >= 1", sys.CPUs)
	}
}

func TestJava(t *testing.T) {
	if _, err := exec.LookPath("java"); err != nil {
		t.Skipf("java not available: %v", err)
	}
	info := Java(context.Background())
	if info.Version == "" {
		t.Error("java is installed but no version was parsed")
	}
}

func TestParseJavaVersion(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		version string
		runtime string
	}{
		{
			name: "openjdk 17",
			out: `openjdk version "17.0.2" 2022-01-18
OpenJDK Runtime Environment (build 17.0.2+8-86)
OpenJDK 64-Bit Server VM (build 17.0.2+8-86, mixed mode, sharing)
`,
			version: "17.0.2",
			runtime: "OpenJDK Runtime Environment",
		},
		{
			name: "oracle 8",
			out: `java version "1.8.0_292"
Java(TM) SE Runtime Environment (build 1.8.0_292-b10)
Java HotSpot(TM) 64-Bit Server VM (build 25.292-b10, mixed mode)
`,
			version: "1.8.0_292",
			runtime: "Java(TM) SE Runtime Environment",
		},
		{
			name:    "unrecognized",
			out:     "no java here\n",
			version: "",
			runtime: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, rt := parseJavaVersion(tt.out)
			if version != tt.version {
				t.Errorf("version = %q, want %q", version, tt.version)
			}
			if rt != tt.runtime {
				t.Errorf("runtime = %q, want %q", rt, tt.runtime)
			}
		})
	}
}
