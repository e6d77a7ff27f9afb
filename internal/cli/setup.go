package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ehrlich-b/shiplog/internal/config"
	"github.com/ehrlich-b/shiplog/internal/docstore"
	"github.com/ehrlich-b/shiplog/internal/reportstore"
)

// Session is an opened store plus the config that opened it.
type Session struct {
	Config *config.Config
	File   string // config file name, empty when defaults were used
	Store  docstore.Store
	Log    *slog.Logger
}

// OpenSession loads config from workDir, falling back to defaults when
// no config file exists, and opens the document store.
func OpenSession(workDir string, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}

	cfg, file, err := config.Load(workDir)
	if errors.Is(err, config.ErrNoConfig) {
		cfg, file = config.Default(), ""
		log.Debug("no config file, using defaults")
	} else if err != nil {
		return nil, err
	}

	store, err := docstore.Open(docstore.Options{
		Backend: cfg.Store.Backend,
		DSN:     cfg.Store.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &Session{Config: cfg, File: file, Store: store, Log: log}, nil
}

func (s *Session) Close() error {
	return s.Store.Close()
}

// Writer resolves the write generations, rotating full ones, and
// returns a document writer over them. Only the run path needs this;
// read-only commands use SearchWriter.
func (s *Session) Writer(ctx context.Context) (*reportstore.Writer, error) {
	lc := reportstore.NewLifecycle(s.Store, s.Log)
	build, failure, logs := s.Config.Index.Limits()
	idx, err := reportstore.Setup(ctx, lc, s.Config.Index.Prefix, reportstore.Limits{
		Build:   build,
		Failure: failure,
		Log:     logs,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve write indices: %w", err)
	}
	return reportstore.NewWriter(s.Store, *idx, s.Config.Report.LinkBase, s.Log), nil
}

// SearchWriter returns a writer that reads across all generations
// without resolving or creating write generations.
func (s *Session) SearchWriter() *reportstore.Writer {
	idx := reportstore.SearchIndices(s.Config.Index.Prefix)
	return reportstore.NewWriter(s.Store, idx, s.Config.Report.LinkBase, s.Log)
}

// resolveWorkDir defaults an empty working directory to the current one.
func resolveWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
