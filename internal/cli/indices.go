package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/ehrlich-b/shiplog/internal/reportstore"
)

// classes in display order.
var classes = []reportstore.Class{
	reportstore.ClassBuild,
	reportstore.ClassFailure,
	reportstore.ClassLog,
}

// IndicesOptions configures the indices command.
type IndicesOptions struct {
	WorkDir string
}

// Indices prints every index generation per class with its document
// count and size.
func Indices(ctx context.Context, opts IndicesOptions, out io.Writer) error {
	workDir, err := resolveWorkDir(opts.WorkDir)
	if err != nil {
		return err
	}

	sess, err := OpenSession(workDir, slog.Default())
	if err != nil {
		return err
	}
	defer sess.Close()

	lc := reportstore.NewLifecycle(sess.Store, sess.Log)

	total := 0
	for _, class := range classes {
		gens, err := lc.Generations(ctx, sess.Config.Index.Prefix+"-"+string(class))
		if err != nil {
			return err
		}
		for _, g := range gens {
			fmt.Fprintf(out, "%-40s  %8d docs  %10s  created %s\n",
				g.Name, g.Docs, humanize.Bytes(uint64(g.SizeBytes)), RelativeTime(g.Created))
			total++
		}
	}
	if total == 0 {
		fmt.Fprintln(out, "No indices created yet")
	}
	return nil
}
