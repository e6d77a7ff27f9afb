package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ehrlich-b/shiplog/internal/report"
	"github.com/ehrlich-b/shiplog/internal/reportstore"
)

// writeTestConfig points the commands at a file-backed SQLite store in
// dir so sequential commands see each other's writes.
func writeTestConfig(t *testing.T, dir string) {
	t.Helper()
	content := fmt.Sprintf(`store:
  dsn: %s
report:
  org: shipco
  project: hullapp
`, filepath.Join(dir, "shiplog.db"))
	if err := os.WriteFile(filepath.Join(dir, ".shiplog.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// seedBuild stores one build document the way the run command would.
func seedBuild(t *testing.T, dir, id string, status report.BuildStatus, when time.Time) *reportstore.Writer {
	t.Helper()
	ctx := context.Background()

	sess, err := OpenSession(dir, slog.Default())
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	writer, err := sess.Writer(ctx)
	if err != nil {
		t.Fatalf("Writer failed: %v", err)
	}

	doc := &report.BuildDocument{
		ID: id,
		Build: report.BuildInfo{
			Org:        "shipco",
			Project:    "hullapp",
			Branch:     "trunk",
			Command:    "make test",
			Time:       when,
			DurationMs: 1200,
			Status:     status,
		},
	}
	if _, err := writer.SaveBuild(ctx, doc); err != nil {
		t.Fatalf("SaveBuild failed: %v", err)
	}
	return writer
}

func TestStatusListsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)

	now := time.Now().UTC()
	seedBuild(t, dir, "aaaaaaaa-0000-0000-0000-000000000001", report.StatusFailed, now.Add(-2*time.Hour))
	seedBuild(t, dir, "bbbbbbbb-0000-0000-0000-000000000002", report.StatusSuccess, now.Add(-time.Minute))

	var out bytes.Buffer
	if err := Status(context.Background(), StatusOptions{WorkDir: dir, Limit: 20}, &out); err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	text := out.String()
	newer := strings.Index(text, "bbbbbbbb")
	older := strings.Index(text, "aaaaaaaa")
	if newer < 0 || older < 0 {
		t.Fatalf("expected both builds listed, got:\n%s", text)
	}
	if newer > older {
		t.Errorf("expected newest build first, got:\n%s", text)
	}
}

func TestStatusLimit(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)

	now := time.Now().UTC()
	seedBuild(t, dir, "aaaaaaaa-0000-0000-0000-000000000001", report.StatusSuccess, now.Add(-2*time.Hour))
	seedBuild(t, dir, "bbbbbbbb-0000-0000-0000-000000000002", report.StatusSuccess, now.Add(-time.Minute))

	var out bytes.Buffer
	if err := Status(context.Background(), StatusOptions{WorkDir: dir, Limit: 1}, &out); err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if strings.Contains(out.String(), "aaaaaaaa") {
		t.Errorf("expected older build cut by limit, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "bbbbbbbb") {
		t.Errorf("expected newest build listed, got:\n%s", out.String())
	}
}

func TestStatusEmptyStore(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)

	var out bytes.Buffer
	if err := Status(context.Background(), StatusOptions{WorkDir: dir, Limit: 20}, &out); err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !strings.Contains(out.String(), "No builds recorded yet") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestStatusBuildDetail(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)

	id := "cccccccc-0000-0000-0000-000000000003"
	seedBuild(t, dir, id, report.StatusFailed, time.Now().UTC())

	var out bytes.Buffer
	if err := Status(context.Background(), StatusOptions{WorkDir: dir, BuildID: id}, &out); err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	text := out.String()
	for _, want := range []string{id, "make test", "shipco/hullapp", "trunk"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in detail output:\n%s", want, text)
		}
	}
}

func TestStatusBuildNotFound(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)

	var out bytes.Buffer
	err := Status(context.Background(), StatusOptions{WorkDir: dir, BuildID: "nope"}, &out)
	if err == nil {
		t.Fatal("expected error for unknown build")
	}
	if !strings.Contains(err.Error(), "build not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLogsInOrder(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)
	ctx := context.Background()

	id := "dddddddd-0000-0000-0000-000000000004"
	writer := seedBuild(t, dir, id, report.StatusSuccess, time.Now().UTC())

	// Written out of order on purpose; the store sorts by total ordinal.
	lines := []report.LogLine{
		report.NewLogLine(id, report.StreamStderr, "third", 1, 3),
		report.NewLogLine(id, report.StreamStdout, "first", 1, 1),
		report.NewLogLine(id, report.StreamStdout, "second", 2, 2),
	}
	if err := writer.BulkWrite(ctx, lines); err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}

	var out bytes.Buffer
	if err := Logs(ctx, LogsOptions{WorkDir: dir, BuildID: id}, &out); err != nil {
		t.Fatalf("Logs failed: %v", err)
	}
	if out.String() != "first\nsecond\nthird\n" {
		t.Errorf("unexpected log output:\n%s", out.String())
	}
}

func TestLogsStreamFilter(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)
	ctx := context.Background()

	id := "eeeeeeee-0000-0000-0000-000000000005"
	writer := seedBuild(t, dir, id, report.StatusSuccess, time.Now().UTC())

	lines := []report.LogLine{
		report.NewLogLine(id, report.StreamStdout, "out line", 1, 1),
		report.NewLogLine(id, report.StreamStderr, "err line", 1, 2),
	}
	if err := writer.BulkWrite(ctx, lines); err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}

	var out bytes.Buffer
	if err := Logs(ctx, LogsOptions{WorkDir: dir, BuildID: id, Stream: report.StreamStderr}, &out); err != nil {
		t.Fatalf("Logs failed: %v", err)
	}
	if out.String() != "err line\n" {
		t.Errorf("unexpected filtered output:\n%s", out.String())
	}
}

func TestLogsUnknownBuild(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)

	var out bytes.Buffer
	err := Logs(context.Background(), LogsOptions{WorkDir: dir, BuildID: "nope"}, &out)
	if err == nil {
		t.Fatal("expected error for unknown build")
	}
}

func TestIndicesListsGenerations(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)

	seedBuild(t, dir, "ffffffff-0000-0000-0000-000000000006", report.StatusSuccess, time.Now().UTC())

	var out bytes.Buffer
	if err := Indices(context.Background(), IndicesOptions{WorkDir: dir}, &out); err != nil {
		t.Fatalf("Indices failed: %v", err)
	}
	text := out.String()
	for _, want := range []string{"shiplog-build-", "shiplog-failure-", "shiplog-log-", "docs"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in indices output:\n%s", want, text)
		}
	}
}

func TestIndicesEmptyStore(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)

	var out bytes.Buffer
	if err := Indices(context.Background(), IndicesOptions{WorkDir: dir}, &out); err != nil {
		t.Fatalf("Indices failed: %v", err)
	}
	if !strings.Contains(out.String(), "No indices created yet") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestPruneWithoutArchiveTarget(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)

	var out bytes.Buffer
	err := Prune(context.Background(), PruneOptions{WorkDir: dir}, &out)
	if err == nil {
		t.Fatal("expected error without archive target")
	}
	if !strings.Contains(err.Error(), "archive target not configured") {
		t.Errorf("unexpected error: %v", err)
	}
}
