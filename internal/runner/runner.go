// Package runner executes the wrapped build command and captures its
// stdout and stderr line by line for the log spool.
package runner

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ehrlich-b/shiplog/internal/report"
)

// Lines longer than this are carved into multiple log lines so a
// runaway process cannot buffer unbounded output.
const maxLineBytes = 64 * 1024

// LineSink receives each captured output line. *spool.Spooler
// satisfies it.
type LineSink interface {
	Enqueue(line report.LogLine) error
}

// Runner runs one build command.
type Runner struct {
	// WorkDir is the working directory for the command.
	WorkDir string

	// Env is additional environment variables on top of the current
	// environment.
	Env map[string]string

	// BuildID stamps every captured line.
	BuildID string

	// Sink receives captured lines. Nil disables capture.
	Sink LineSink

	// Stdout/Stderr tee the raw output, typically to the terminal.
	Stdout io.Writer
	Stderr io.Writer

	Log *slog.Logger
}

// Run executes the command under `sh -c` and blocks until it exits.
// Cancelling the context kills the whole process group; the result
// then reports exit code 137 with Interrupted set. The returned error
// is non-nil only when the command could not be started.
func (r *Runner) Run(ctx context.Context, command string) (report.ProcessResult, error) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}

	var total atomic.Int64
	emit := func(l report.LogLine) {
		if r.Sink == nil {
			return
		}
		if err := r.Sink.Enqueue(l); err != nil {
			log.Warn("dropping log line", "build_id", r.BuildID, "stream", l.Stream, "error", err)
		}
	}
	stdout := newLineWriter(r.BuildID, report.StreamStdout, emit, &total, r.Stdout)
	stderr := newLineWriter(r.BuildID, report.StreamStderr, emit, &total, r.Stderr)

	start := time.Now()

	// No CommandContext: cancellation is handled below via the
	// process group so child processes die too.
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = r.WorkDir
	cmd.Env = r.buildEnv()
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return report.ProcessResult{ExitCode: 1, DurationMs: time.Since(start).Milliseconds()}, err
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var res report.ProcessResult
	select {
	case err := <-done:
		res.ExitCode = exitCode(err)
	case <-ctx.Done():
		// Kill the entire process group (negative PID)
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		res.ExitCode = 137 // 128 + SIGKILL
		res.Interrupted = true
	}
	res.DurationMs = time.Since(start).Milliseconds()

	// Wait has returned, so the pipe copiers are finished and any
	// trailing partial line can be flushed.
	stdout.flush()
	stderr.flush()

	return res, nil
}

func (r *Runner) buildEnv() []string {
	env := os.Environ()
	for k, v := range r.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}
	return 1
}

// lineWriter splits a raw output stream into log lines, assigning the
// per-stream and build-wide ordinals as it goes.
type lineWriter struct {
	buildID string
	stream  string
	emit    func(report.LogLine)
	total   *atomic.Int64
	tee     io.Writer

	mu  sync.Mutex
	buf bytes.Buffer
	ord int64
}

func newLineWriter(buildID, stream string, emit func(report.LogLine), total *atomic.Int64, tee io.Writer) *lineWriter {
	return &lineWriter{
		buildID: buildID,
		stream:  stream,
		emit:    emit,
		total:   total,
		tee:     tee,
	}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.tee != nil {
		// Capture is the priority; a broken tee must not abort the
		// command's output pipe.
		_, _ = w.tee.Write(p)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		if idx := bytes.IndexByte(w.buf.Bytes(), '\n'); idx >= 0 {
			line := w.buf.Next(idx + 1)
			text := string(line[:idx])
			if len(text) > 0 && text[len(text)-1] == '\r' {
				text = text[:len(text)-1]
			}
			w.emitLine(text)
			continue
		}
		if w.buf.Len() >= maxLineBytes {
			w.emitLine(string(w.buf.Next(maxLineBytes)))
			continue
		}
		return len(p), nil
	}
}

// flush emits any trailing output that never got its newline.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	text := w.buf.String()
	w.buf.Reset()
	w.emitLine(text)
}

func (w *lineWriter) emitLine(text string) {
	w.ord++
	w.emit(report.NewLogLine(w.buildID, w.stream, text, w.ord, w.total.Add(1)))
}
