package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/ehrlich-b/shiplog/internal/docstore"
	"github.com/ehrlich-b/shiplog/internal/report"
	"github.com/ehrlich-b/shiplog/internal/reportstore"
)

// StatusOptions configures the status command.
type StatusOptions struct {
	WorkDir string
	BuildID string // empty lists recent builds
	Limit   int
}

// Status prints recent builds, or one build in detail.
func Status(ctx context.Context, opts StatusOptions, out io.Writer) error {
	workDir, err := resolveWorkDir(opts.WorkDir)
	if err != nil {
		return err
	}

	sess, err := OpenSession(workDir, slog.Default())
	if err != nil {
		return err
	}
	defer sess.Close()

	w := sess.SearchWriter()
	if opts.BuildID != "" {
		return printBuild(ctx, w, opts.BuildID, out)
	}
	return listBuilds(ctx, sess, w, opts.Limit, out)
}

func listBuilds(ctx context.Context, sess *Session, w *reportstore.Writer, limit int, out io.Writer) error {
	hits, err := sess.Store.Search(ctx, w.Indices().BuildSearch, docstore.Query{})
	if errors.Is(err, docstore.ErrIndexNotFound) {
		fmt.Fprintln(out, "No builds recorded yet")
		return nil
	}
	if err != nil {
		return err
	}

	builds := make([]report.BuildDocument, 0, len(hits))
	for _, h := range hits {
		var b report.BuildDocument
		if err := json.Unmarshal(h.Source, &b); err != nil {
			continue // skip documents this binary cannot read
		}
		builds = append(builds, b)
	}

	// Newest first
	sort.Slice(builds, func(i, j int) bool {
		return builds[i].Build.Time.After(builds[j].Build.Time)
	})
	if limit > 0 && len(builds) > limit {
		builds = builds[:limit]
	}

	if len(builds) == 0 {
		fmt.Fprintln(out, "No builds recorded yet")
		return nil
	}

	for _, b := range builds {
		tests := "-"
		if b.Test != nil {
			tests = fmt.Sprintf("%d/%d", b.Test.Passed, b.Test.Total)
		}
		fmt.Fprintf(out, "%s %s  %-30s  %-15s  tests %-7s  %-8s  %s\n",
			StatusSymbol(b.Build.Status),
			shortID(b.ID),
			b.Build.Org+"/"+b.Build.Project,
			b.Build.Branch,
			tests,
			FormatDuration(time.Duration(b.Build.DurationMs)*time.Millisecond),
			RelativeTime(b.Build.Time))
	}
	return nil
}

func printBuild(ctx context.Context, w *reportstore.Writer, id string, out io.Writer) error {
	b, err := w.FindBuild(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("build not found: %s", id)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s/%s %s\n", StatusSymbol(b.Build.Status), b.Build.Org, b.Build.Project, b.Build.Branch)
	fmt.Fprintf(out, "  id:       %s\n", b.ID)
	fmt.Fprintf(out, "  command:  %s\n", b.Build.Command)
	fmt.Fprintf(out, "  started:  %s (%s)\n", b.Build.Time.Format(time.RFC3339), RelativeTime(b.Build.Time))
	fmt.Fprintf(out, "  duration: %s\n", FormatDuration(time.Duration(b.Build.DurationMs)*time.Millisecond))
	fmt.Fprintf(out, "  exit:     %d\n", b.Process.ExitCode)
	if b.Process.Interrupted {
		fmt.Fprintf(out, "  interrupted\n")
	}
	if b.VCS.Commit != "" {
		fmt.Fprintf(out, "  commit:   %.12s %s (%s)\n", b.VCS.Commit, b.VCS.Message, b.VCS.Author)
	}
	if b.Java.Version != "" {
		fmt.Fprintf(out, "  java:     %s\n", b.Java.Version)
	}
	fmt.Fprintf(out, "  host:     %s (%s/%s, %d cpus)\n", b.Sys.Hostname, b.Sys.OS, b.Sys.Arch, b.Sys.CPUs)
	if b.Test != nil {
		fmt.Fprintf(out, "  tests:    %d total, %d passed, %d failed, %d errors, %d skipped\n",
			b.Test.Total, b.Test.Passed, b.Test.Failed, b.Test.Errors, b.Test.Skipped)
	}

	failures, err := w.FailuresByBuild(ctx, b.ID)
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		fmt.Fprintln(out)
		for _, f := range failures {
			fmt.Fprintf(out, "  %s %s.%s\n", f.ErrorType, f.Class, f.Test)
			fmt.Fprintf(out, "      %s\n", f.Summary)
		}
	}
	return nil
}
