package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ehrlich-b/shiplog/internal/docstore"
)

// LogsOptions configures the logs command.
type LogsOptions struct {
	WorkDir    string
	BuildID    string
	Stream     string // "stdout", "stderr", or empty for both
	Timestamps bool
}

// Logs prints a build's captured output in the order it was produced.
func Logs(ctx context.Context, opts LogsOptions, out io.Writer) error {
	workDir, err := resolveWorkDir(opts.WorkDir)
	if err != nil {
		return err
	}

	sess, err := OpenSession(workDir, slog.Default())
	if err != nil {
		return err
	}
	defer sess.Close()

	lines, err := sess.SearchWriter().LogsByBuild(ctx, opts.BuildID)
	if errors.Is(err, docstore.ErrIndexNotFound) {
		return fmt.Errorf("no logs stored for build %s", opts.BuildID)
	}
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("no logs stored for build %s", opts.BuildID)
	}

	for _, l := range lines {
		if opts.Stream != "" && l.Stream != opts.Stream {
			continue
		}
		if opts.Timestamps {
			fmt.Fprintf(out, "%s %s\n", l.Time.Format("15:04:05.000"), l.Log)
		} else {
			fmt.Fprintln(out, l.Log)
		}
	}
	return nil
}
