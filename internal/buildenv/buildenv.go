// Package buildenv probes the machine and Java runtime a build ran on.
package buildenv

import (
	"context"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ehrlich-b/shiplog/internal/report"
)

// System reports facts about this machine.
func System() report.SysInfo {
	host, _ := os.Hostname()
	username := os.Getenv("USER")
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	return report.SysInfo{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		Hostname: host,
		User:     username,
		CPUs:     runtime.NumCPU(),
	}
}

// Java probes the Java runtime a build would use: $JAVA_HOME/bin/java
// when JAVA_HOME is set, otherwise java from PATH. A machine without
// Java yields a zero value, not an error.
func Java(ctx context.Context) report.JavaInfo {
	info := report.JavaInfo{Home: os.Getenv("JAVA_HOME")}

	bin := "java"
	if info.Home != "" {
		bin = filepath.Join(info.Home, "bin", "java")
	}

	// java -version writes to stderr
	out, err := exec.CommandContext(ctx, bin, "-version").CombinedOutput()
	if err != nil {
		return info
	}
	info.Version, info.Runtime = parseJavaVersion(string(out))
	return info
}

// parseJavaVersion picks the quoted version out of the first line of
// `java -version` output and the runtime name out of the second:
//
//	openjdk version "17.0.2" 2022-01-18
//	OpenJDK Runtime Environment (build 17.0.2+8-86)
func parseJavaVersion(out string) (version, rt string) {
	lines := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	if len(lines) > 0 {
		if _, rest, ok := strings.Cut(lines[0], `"`); ok {
			version, _, _ = strings.Cut(rest, `"`)
		}
	}
	if len(lines) > 1 {
		rt, _, _ = strings.Cut(lines[1], " (build")
		rt = strings.TrimSpace(rt)
	}
	return version, rt
}
