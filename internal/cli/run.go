package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/shiplog/internal/buildenv"
	"github.com/ehrlich-b/shiplog/internal/config"
	"github.com/ehrlich-b/shiplog/internal/junit"
	"github.com/ehrlich-b/shiplog/internal/notify"
	"github.com/ehrlich-b/shiplog/internal/report"
	"github.com/ehrlich-b/shiplog/internal/reportstore"
	"github.com/ehrlich-b/shiplog/internal/runner"
	"github.com/ehrlich-b/shiplog/internal/spool"
	"github.com/ehrlich-b/shiplog/internal/vcs"
	"github.com/ehrlich-b/shiplog/internal/version"
)

// notifyTimeout bounds how long a finished build waits on its
// notification channels.
const notifyTimeout = 15 * time.Second

// RunOptions configures the run command.
type RunOptions struct {
	Command string
	WorkDir string
	Env     map[string]string

	// Stdout/Stderr default to the process's own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes a build command and records it: the build document, one
// document per failed test, and every captured output line. Returns
// the command's own exit code; a run that could not be recorded
// returns 1.
func Run(ctx context.Context, opts RunOptions) int {
	log := slog.Default()
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	if opts.Command == "" {
		fmt.Fprintln(stderr, "Error: no command provided")
		fmt.Fprintln(stderr, "Usage: shiplog run -- make test")
		return 1
	}

	workDir, err := resolveWorkDir(opts.WorkDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: cannot get working directory: %v\n", err)
		return 1
	}

	sess, err := OpenSession(workDir, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer sess.Close()

	writer, err := sess.Writer(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cfg := sess.Config

	// Identity: config wins over what the git remote yields
	vcsInfo, err := vcs.Collect(ctx, workDir)
	if err != nil {
		log.Warn("no VCS metadata", "error", err)
	}
	org, project := vcsInfo.Org, vcsInfo.Project
	if cfg.Report.Org != "" {
		org = cfg.Report.Org
	}
	if cfg.Report.Project != "" {
		project = cfg.Report.Project
	}

	buildID := uuid.NewString()
	spooler := spool.New(writer, cfg.Spool.Capacity, cfg.Spool.Interval.Duration(), log)

	fmt.Fprintf(stdout, "Running: %s\n", opts.Command)
	fmt.Fprintf(stdout, "Build: %s\n\n", buildID)

	start := time.Now().UTC()
	r := &runner.Runner{
		WorkDir: workDir,
		Env:     opts.Env,
		BuildID: buildID,
		Sink:    spooler,
		Stdout:  stdout,
		Stderr:  stderr,
		Log:     log,
	}
	result, runErr := r.Run(ctx, opts.Command)
	if runErr != nil {
		spooler.Close()
		fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return 1
	}

	// The command is done. Everything from here is bookkeeping and must
	// not be cut short by the interrupt that killed the build.
	ctx = context.WithoutCancel(ctx)

	status := report.StatusSuccess
	if result.ExitCode != 0 {
		status = report.StatusFailed
	}

	ref := junit.Ref{BuildID: buildID, Org: org, Project: project, Branch: vcsInfo.Branch, Time: start}
	var summary *report.TestSummary
	var failures []report.FailureDocument
	if results, err := junit.Scan(workDir, cfg.Report.Reports, ref); err != nil {
		log.Warn("test report scan failed", "error", err)
	} else if results != nil {
		summary = &results.Summary
		failures = results.Failures
	}

	doc := &report.BuildDocument{
		ID:      buildID,
		Version: report.VersionInfo{Number: version.Version, Hash: version.Commit},
		Build: report.BuildInfo{
			Org:        org,
			Project:    project,
			Branch:     vcsInfo.Branch,
			Command:    opts.Command,
			Time:       start,
			DurationMs: result.DurationMs,
			Status:     status,
		},
		Java:    buildenv.Java(ctx),
		Sys:     buildenv.System(),
		VCS:     vcsInfo.Entry,
		Process: result,
		Test:    summary,
	}

	saved, err := writer.SaveBuild(ctx, doc)
	if err != nil {
		spooler.Close()
		fmt.Fprintf(stderr, "Error: recording build: %v\n", err)
		return 1
	}

	if err := writer.SaveFailures(ctx, failures); err != nil {
		log.Warn("recording test failures failed", "build_id", buildID, "error", err)
	}

	if err := spooler.Close(); err != nil {
		log.Warn("stored log is incomplete", "build_id", buildID, "error", err)
	}

	notifyBuild(ctx, cfg, saved, log)

	fmt.Fprintf(stdout, "\nRecorded build %s (%s)\n", buildID, status)
	if summary != nil {
		fmt.Fprintf(stdout, "Tests: %d total, %d passed, %d failed, %d errors, %d skipped\n",
			summary.Total, summary.Passed, summary.Failed, summary.Errors, summary.Skipped)
	}
	if saved.URL != "" {
		fmt.Fprintf(stdout, "%s\n", saved.URL)
	}
	return result.ExitCode
}

// notifyBuild fans the stored build out to the configured channels.
// Notification failures never fail the build.
func notifyBuild(ctx context.Context, cfg *config.Config, saved *reportstore.SavedBuild, log *slog.Logger) {
	var channels notify.Multi
	if cfg.Notify.Webhook.URL != "" {
		channels = append(channels, &notify.Webhook{
			URL:      cfg.Notify.Webhook.URL,
			Token:    cfg.Notify.Webhook.Token,
			Template: cfg.Notify.Webhook.Template,
		})
	}
	if len(cfg.Notify.Email.To) > 0 {
		channels = append(channels, &notify.Email{
			Addr:     cfg.Notify.Email.Addr,
			From:     cfg.Notify.Email.From,
			To:       cfg.Notify.Email.To,
			Username: cfg.Notify.Email.Username,
			Password: cfg.Notify.Email.Password,
			Template: cfg.Notify.Email.Template,
		})
	}
	if len(channels) == 0 {
		return
	}

	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := channels.Notify(nctx, notify.Event{Build: *saved.Build, URL: saved.URL}); err != nil {
		log.Warn("notification failed", "error", err)
	}
}
