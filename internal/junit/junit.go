// Package junit discovers and parses JUnit XML reports (surefire
// layout) into the documents shiplog stores.
package junit

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ehrlich-b/shiplog/internal/report"
)

// Ref is the build identity stamped onto every failure document.
type Ref struct {
	BuildID string
	Org     string
	Project string
	Branch  string
	Time    time.Time
}

// Results of scanning one build's reports.
type Results struct {
	Summary  report.TestSummary
	Failures []report.FailureDocument
}

// Scan globs patterns under dir and parses every matching report.
// Returns nil when no report files exist, which callers record as
// "build had no tests". Any unreadable or malformed file fails the
// scan.
func Scan(dir string, patterns []string, ref Ref) (*Results, error) {
	files, err := discover(dir, patterns)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	res := &Results{}
	for _, path := range files {
		suites, err := parseFile(path)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, s := range suites {
			res.add(s, ref)
		}
	}
	return res, nil
}

// discover returns deduplicated regular files matching any pattern,
// resolved relative to dir.
func discover(dir string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string

	for _, pattern := range patterns {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(dir, pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				result = append(result, m)
			}
		}
	}
	return result, nil
}

type testSuite struct {
	Name  string     `xml:"name,attr"`
	Cases []testCase `xml:"testcase"`
}

type testCase struct {
	Name      string       `xml:"name,attr"`
	ClassName string       `xml:"classname,attr"`
	Failure   *caseProblem `xml:"failure"`
	Error     *caseProblem `xml:"error"`
	Skipped   *struct{}    `xml:"skipped"`
}

type caseProblem struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// parseFile accepts both a bare <testsuite> root and a <testsuites>
// wrapper around several of them.
func parseFile(path string) ([]testSuite, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) ([]testSuite, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "testsuites":
			var wrapper struct {
				Suites []testSuite `xml:"testsuite"`
			}
			if err := dec.DecodeElement(&wrapper, &start); err != nil {
				return nil, err
			}
			return wrapper.Suites, nil
		case "testsuite":
			var s testSuite
			if err := dec.DecodeElement(&s, &start); err != nil {
				return nil, err
			}
			return []testSuite{s}, nil
		default:
			return nil, fmt.Errorf("unexpected root element <%s>", start.Name.Local)
		}
	}
}

// add counts a suite's cases into the summary and materializes one
// failure document per failed or errored case. Counts come from the
// cases themselves, not the suite attributes, so truncated attribute
// counts cannot skew the summary.
func (r *Results) add(s testSuite, ref Ref) {
	for _, c := range s.Cases {
		r.Summary.Total++
		switch {
		case c.Failure != nil:
			r.Summary.Failed++
			r.Failures = append(r.Failures, failureDoc(c, c.Failure, "failure", ref))
		case c.Error != nil:
			r.Summary.Errors++
			r.Failures = append(r.Failures, failureDoc(c, c.Error, "error", ref))
		case c.Skipped != nil:
			r.Summary.Skipped++
		default:
			r.Summary.Passed++
		}
	}
}

func failureDoc(c testCase, p *caseProblem, errorType string, ref Ref) report.FailureDocument {
	stack := strings.TrimSpace(p.Body)
	return report.FailureDocument{
		ErrorType:  errorType,
		Class:      c.ClassName,
		Test:       c.Name,
		Stacktrace: stack,
		Summary:    summarize(stack, p),
		Type:       p.Type,
		Message:    p.Message,
		BuildID:    ref.BuildID,
		Time:       ref.Time,
		Org:        ref.Org,
		Project:    ref.Project,
		Branch:     ref.Branch,
	}
}

// summarize yields the one-line description shown in listings: the
// first stacktrace line when there is one, otherwise type and message.
func summarize(stack string, p *caseProblem) string {
	if line, _, _ := strings.Cut(stack, "\n"); strings.TrimSpace(line) != "" {
		return strings.TrimSpace(line)
	}
	if p.Type != "" && p.Message != "" {
		return p.Type + ": " + p.Message
	}
	if p.Message != "" {
		return p.Message
	}
	return p.Type
}
