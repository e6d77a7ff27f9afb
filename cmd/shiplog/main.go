package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/shiplog/internal/cli"
	"github.com/ehrlich-b/shiplog/internal/config"
	"github.com/ehrlich-b/shiplog/internal/version"
)

func main() {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:     "shiplog",
		Short:   "Record builds, test failures, and logs in a document store",
		Version: version.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	rootCmd.AddCommand(
		runCmd(),
		statusCmd(),
		logsCmd(),
		indicesCmd(),
		pruneCmd(),
		configCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var workDir string

	cmd := &cobra.Command{
		Use:   "run [command]",
		Short: "Run a build command and record it",
		Long: `Run a build command, capturing its output into the document store.

The command runs under "sh -c"; everything after -- is passed through
verbatim. The exit code of shiplog run is the command's own exit code.

Examples:
  shiplog run -- mvn -B verify
  shiplog run "make test"`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			exitCode := cli.Run(cmd.Context(), cli.RunOptions{
				Command: strings.Join(args, " "),
				WorkDir: workDir,
			})
			os.Exit(exitCode)
		},
	}
	cmd.Flags().StringVarP(&workDir, "dir", "C", "", "Working directory (default: current directory)")
	return cmd
}

func statusCmd() *cobra.Command {
	var workDir string
	var limit int

	cmd := &cobra.Command{
		Use:   "status [build-id]",
		Short: "Show recent builds, or one build in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.StatusOptions{WorkDir: workDir, Limit: limit}
			if len(args) == 1 {
				opts.BuildID = args[0]
			}
			return cli.Status(cmd.Context(), opts, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&workDir, "dir", "C", "", "Working directory (default: current directory)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Max builds to list")
	return cmd
}

func logsCmd() *cobra.Command {
	var workDir string
	var stream string
	var timestamps bool

	cmd := &cobra.Command{
		Use:   "logs <build-id>",
		Short: "Print a build's captured output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Logs(cmd.Context(), cli.LogsOptions{
				WorkDir:    workDir,
				BuildID:    args[0],
				Stream:     stream,
				Timestamps: timestamps,
			}, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&workDir, "dir", "C", "", "Working directory (default: current directory)")
	cmd.Flags().StringVar(&stream, "stream", "", "Only one stream: stdout or stderr")
	cmd.Flags().BoolVar(&timestamps, "timestamps", false, "Prefix lines with capture time")
	return cmd
}

func indicesCmd() *cobra.Command {
	var workDir string

	cmd := &cobra.Command{
		Use:   "indices",
		Short: "List index generations and their sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Indices(cmd.Context(), cli.IndicesOptions{WorkDir: workDir}, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&workDir, "dir", "C", "", "Working directory (default: current directory)")
	return cmd
}

func pruneCmd() *cobra.Command {
	var workDir string
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Archive old index generations and drop them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Prune(cmd.Context(), cli.PruneOptions{WorkDir: workDir, Keep: keep}, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&workDir, "dir", "C", "", "Working directory (default: current directory)")
	cmd.Flags().IntVar(&keep, "keep", 0, "Generations to keep per class (default: from config)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config file",
		Run: func(cmd *cobra.Command, args []string) {
			workDir, err := os.Getwd()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			cfg, configFile, err := config.Load(workDir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("Valid: %s\n", configFile)
			backend := cfg.Store.Backend
			if backend == "" {
				backend = "sqlite"
			}
			fmt.Printf("  store: %s\n", backend)
			if backend == "sqlite" {
				fmt.Printf("  dsn: %s\n", cfg.Store.DSN)
			}
			fmt.Printf("  index prefix: %s\n", cfg.Index.Prefix)
			fmt.Printf("  spool: %d lines / %s\n", cfg.Spool.Capacity, cfg.Spool.Interval.Duration())
			if cfg.Report.Org != "" || cfg.Report.Project != "" {
				fmt.Printf("  project: %s/%s\n", cfg.Report.Org, cfg.Report.Project)
			}
			fmt.Printf("  reports: %v\n", cfg.Report.Reports)
			if cfg.Notify.Webhook.URL != "" {
				fmt.Printf("  webhook: %s\n", cfg.Notify.Webhook.URL)
			}
			if len(cfg.Notify.Email.To) > 0 {
				fmt.Printf("  email: %d recipients via %s\n", len(cfg.Notify.Email.To), cfg.Notify.Email.Addr)
			}
			if cfg.Archive.Bucket != "" {
				fmt.Printf("  archive: %s (keep %d)\n", cfg.Archive.Bucket, cfg.Archive.Keep)
			}
		},
	}
}
