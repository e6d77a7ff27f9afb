// Package report defines the documents shiplog persists for a build:
// the build record itself, one document per failed test, and the
// captured log lines. Field names are the store's wire contract.
package report

import "time"

// Log stream names
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// BuildStatus is the overall outcome of a build.
type BuildStatus string

const (
	StatusSuccess BuildStatus = "success"
	StatusFailed  BuildStatus = "failed"
)

// VersionInfo records which shiplog binary produced a document.
type VersionInfo struct {
	Number string `json:"string"` // release string, "dev" for unstamped builds
	Hash   string `json:"hash"`   // commit the binary was built from
}

// BuildInfo describes the build invocation itself.
type BuildInfo struct {
	Org        string      `json:"org"`
	Project    string      `json:"project"`
	Branch     string      `json:"branch"`
	Command    string      `json:"command"`
	Time       time.Time   `json:"time"` // when the build started
	DurationMs int64       `json:"duration-millis"`
	Status     BuildStatus `json:"status"`
}

// JavaInfo captures the Java runtime the build ran under, if any.
type JavaInfo struct {
	Version string `json:"version,omitempty"`
	Runtime string `json:"runtime,omitempty"`
	Home    string `json:"home,omitempty"`
}

// SysInfo captures facts about the machine that ran the build.
type SysInfo struct {
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname"`
	User     string `json:"user"`
	CPUs     int    `json:"cpus"`
}

// VCSEntry is the head commit of the built working copy.
type VCSEntry struct {
	Commit  string    `json:"commit"`
	Author  string    `json:"author"`
	Email   string    `json:"email,omitempty"`
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// ProcessResult is the outcome of the wrapped build command.
type ProcessResult struct {
	ExitCode    int   `json:"exit-code"`
	DurationMs  int64 `json:"duration-millis"`
	Interrupted bool  `json:"interrupted,omitempty"`
}

// TestSummary aggregates JUnit results across all parsed report files.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// BuildDocument is the one record written per build. Written once,
// never mutated afterwards.
type BuildDocument struct {
	ID      string        `json:"id"`
	Version VersionInfo   `json:"version"`
	Build   BuildInfo     `json:"build"`
	Java    JavaInfo      `json:"java"`
	Sys     SysInfo       `json:"sys"`
	VCS     VCSEntry      `json:"vcs"`
	Process ProcessResult `json:"process"`
	Test    *TestSummary  `json:"test,omitempty"` // nil when no reports were found
}

// FailureDocument is one failed or errored test case, enriched with
// enough build context to query it on its own.
type FailureDocument struct {
	ErrorType  string    `json:"error-type"` // "failure" or "error"
	Class      string    `json:"class"`
	Test       string    `json:"test"`
	Stacktrace string    `json:"stacktrace,omitempty"`
	Summary    string    `json:"summary"`
	Type       string    `json:"type"` // exception type, e.g. java.lang.AssertionError
	Message    string    `json:"message,omitempty"`
	BuildID    string    `json:"build-id"`
	Time       time.Time `json:"time"`
	Org        string    `json:"org"`
	Project    string    `json:"project"`
	Branch     string    `json:"branch"`
}

// Ordinal positions a log line within its stream and within the build.
type Ordinal struct {
	Stream int64 `json:"stream"` // per-stream counter, monotonic
	Total  int64 `json:"total"`  // across both streams
}

// LogLine is one captured line of build output.
type LogLine struct {
	BuildID string    `json:"build-id"`
	Stream  string    `json:"stream"` // "stdout" or "stderr"
	Time    time.Time `json:"time"`
	Size    int       `json:"size"` // byte length of Log
	Log     string    `json:"log"`
	Ord     Ordinal   `json:"ord"`
}

// NewLogLine creates a LogLine stamped with the current time.
func NewLogLine(buildID, stream, text string, streamOrd, totalOrd int64) LogLine {
	return LogLine{
		BuildID: buildID,
		Stream:  stream,
		Time:    time.Now().UTC(),
		Size:    len(text),
		Log:     text,
		Ord:     Ordinal{Stream: streamOrd, Total: totalOrd},
	}
}
