// Package vcs reads git metadata for the working copy being built.
package vcs

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/ehrlich-b/shiplog/internal/report"
)

// Info is the version-control identity of a build.
type Info struct {
	Entry   report.VCSEntry
	Branch  string
	Org     string
	Project string
}

// Collect gathers the head commit, branch, and remote identity for the
// repository at dir. A missing or unparseable origin remote leaves
// Org/Project empty; only a missing repository or commit is an error.
func Collect(ctx context.Context, dir string) (Info, error) {
	entry, err := Head(ctx, dir)
	if err != nil {
		return Info{}, err
	}
	info := Info{Entry: entry}
	if branch, err := Branch(ctx, dir); err == nil {
		info.Branch = branch
	}
	if org, project, err := Remote(ctx, dir); err == nil {
		info.Org, info.Project = org, project
	}
	return info, nil
}

// Head returns the checked-out commit at dir.
func Head(ctx context.Context, dir string) (report.VCSEntry, error) {
	out, err := git(ctx, dir, "log", "-1", "--pretty=format:%H%n%an%n%ae%n%aI%n%s")
	if err != nil {
		return report.VCSEntry{}, fmt.Errorf("read head commit: %w", err)
	}
	parts := strings.SplitN(out, "\n", 5)
	if len(parts) < 4 {
		return report.VCSEntry{}, fmt.Errorf("unexpected git log output: %q", out)
	}
	entry := report.VCSEntry{
		Commit: parts[0],
		Author: parts[1],
		Email:  parts[2],
	}
	if ts, err := time.Parse(time.RFC3339, parts[3]); err == nil {
		entry.Time = ts.UTC()
	}
	if len(parts) == 5 {
		entry.Message = parts[4]
	}
	return entry, nil
}

// Branch returns the current branch name, or "HEAD" when detached.
func Branch(ctx context.Context, dir string) (string, error) {
	out, err := git(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("read branch: %w", err)
	}
	return out, nil
}

// Remote derives the org and project from the origin remote URL.
func Remote(ctx context.Context, dir string) (string, string, error) {
	out, err := git(ctx, dir, "remote", "get-url", "origin")
	if err != nil {
		return "", "", fmt.Errorf("read origin remote: %w", err)
	}
	return parseRemote(out)
}

// parseRemote handles both URL remotes (https://host/org/project.git)
// and scp-like remotes (git@host:org/project.git).
func parseRemote(raw string) (string, string, error) {
	s := strings.TrimSuffix(strings.TrimSpace(raw), ".git")
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", "", fmt.Errorf("parse remote %q: %w", raw, err)
		}
		s = strings.TrimPrefix(u.Path, "/")
	} else if i := strings.Index(s, ":"); i >= 0 && strings.Contains(s[:i], "@") {
		s = s[i+1:]
	}
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-1] == "" || parts[len(parts)-2] == "" {
		return "", "", fmt.Errorf("cannot derive org/project from remote %q", raw)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\n"), nil
}
