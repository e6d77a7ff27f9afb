package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ehrlich-b/shiplog/internal/archive"
	"github.com/ehrlich-b/shiplog/internal/reportstore"
)

// PruneOptions configures the prune command.
type PruneOptions struct {
	WorkDir string
	Keep    int // 0 uses the configured default
}

// Prune archives old index generations to object storage and drops
// them, keeping the newest per class. The write generation survives
// every prune.
func Prune(ctx context.Context, opts PruneOptions, out io.Writer) error {
	workDir, err := resolveWorkDir(opts.WorkDir)
	if err != nil {
		return err
	}

	sess, err := OpenSession(workDir, slog.Default())
	if err != nil {
		return err
	}
	defer sess.Close()

	cfg := sess.Config
	if cfg.Archive.Bucket == "" {
		return errors.New("archive target not configured (set archive.bucket)")
	}
	keep := opts.Keep
	if keep <= 0 {
		keep = cfg.Archive.Keep
	}

	target, err := archive.NewS3Target(ctx, archive.S3Config{
		Endpoint:        cfg.Archive.Endpoint,
		Region:          cfg.Archive.Region,
		Bucket:          cfg.Archive.Bucket,
		AccessKeyID:     cfg.Archive.AccessKeyID,
		SecretAccessKey: cfg.Archive.SecretAccessKey,
	})
	if err != nil {
		return fmt.Errorf("open archive target: %w", err)
	}

	arch := archive.New(sess.Store, target, sess.Log)
	lc := reportstore.NewLifecycle(sess.Store, sess.Log)

	total := 0
	for _, class := range classes {
		dropped, err := arch.Prune(ctx, lc, cfg.Index.Prefix+"-"+string(class), keep)
		for _, name := range dropped {
			fmt.Fprintf(out, "archived %s\n", name)
		}
		total += len(dropped)
		if err != nil {
			return fmt.Errorf("prune %s: %w", class, err)
		}
	}
	if total == 0 {
		fmt.Fprintf(out, "Nothing to prune (keeping %d generations per class)\n", keep)
	}
	return nil
}
