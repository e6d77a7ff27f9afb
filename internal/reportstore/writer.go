package reportstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ehrlich-b/shiplog/internal/docstore"
	"github.com/ehrlich-b/shiplog/internal/report"
)

// Writer reads and writes report documents against the indices
// resolved at startup. Safe for concurrent use; the store handle does
// the heavy lifting.
type Writer struct {
	store    docstore.Store
	idx      Indices
	linkBase string
	log      *slog.Logger
}

// NewWriter creates a writer over resolved indices. linkBase, when
// non-empty, is the URL prefix for browse links in SavedBuild.
func NewWriter(store docstore.Store, idx Indices, linkBase string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, idx: idx, linkBase: linkBase, log: logger}
}

// Indices returns the resolved indices the writer operates on.
func (w *Writer) Indices() Indices {
	return w.idx
}

// SavedBuild locates a stored build document.
type SavedBuild struct {
	Address string // "<generation>/<id>"
	URL     string // browse link, empty when no link base is configured
	Build   *report.BuildDocument
}

// SaveBuild writes the build document with immediate visibility: once
// this returns, the document is searchable. Called once per build.
func (w *Writer) SaveBuild(ctx context.Context, doc *report.BuildDocument) (*SavedBuild, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode build document: %w", err)
	}
	if err := w.store.Put(ctx, w.idx.BuildWrite, doc.ID, body, true); err != nil {
		return nil, fmt.Errorf("save build %s: %w", doc.ID, err)
	}

	saved := &SavedBuild{
		Address: w.idx.BuildWrite + "/" + doc.ID,
		Build:   doc,
	}
	if w.linkBase != "" {
		saved.URL = strings.TrimSuffix(w.linkBase, "/") + "/" + saved.Address
	}
	w.log.Info("saved build", "build_id", doc.ID, "index", w.idx.BuildWrite)
	return saved, nil
}

// SaveFailures writes each failure document individually, in order.
// There is no rollback: an error partway through leaves the earlier
// documents persisted.
func (w *Writer) SaveFailures(ctx context.Context, failures []report.FailureDocument) error {
	for i := range failures {
		body, err := json.Marshal(&failures[i])
		if err != nil {
			return fmt.Errorf("encode failure document: %w", err)
		}
		id := uuid.NewString()
		if err := w.store.Put(ctx, w.idx.FailureWrite, id, body, false); err != nil {
			return fmt.Errorf("save failure %s.%s: %w", failures[i].Class, failures[i].Test, err)
		}
	}
	if len(failures) > 0 {
		w.log.Info("saved failures", "count", len(failures), "index", w.idx.FailureWrite)
	}
	return nil
}

// GetBuild fetches a build by its address ("<generation>/<id>").
// Absence is a hard error.
func (w *Writer) GetBuild(ctx context.Context, address string) (*report.BuildDocument, error) {
	index, id, ok := strings.Cut(address, "/")
	if !ok || index == "" || id == "" {
		return nil, fmt.Errorf("malformed build address %q", address)
	}
	body, err := w.store.Get(ctx, index, id)
	if err != nil {
		return nil, fmt.Errorf("get build %s: %w", address, err)
	}
	var doc report.BuildDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode build %s: %w", address, err)
	}
	return &doc, nil
}

// FindBuild looks a build up by id across all build generations.
// Returns docstore.ErrNotFound when no build matches, including the
// case where no build index exists yet.
func (w *Writer) FindBuild(ctx context.Context, id string) (*report.BuildDocument, error) {
	hits, err := w.store.Search(ctx, w.idx.BuildSearch, docstore.Query{
		Terms: map[string]string{"id": id},
		Limit: 1,
	})
	if errors.Is(err, docstore.ErrIndexNotFound) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find build %s: %w", id, err)
	}
	if len(hits) == 0 {
		return nil, docstore.ErrNotFound
	}
	var doc report.BuildDocument
	if err := json.Unmarshal(hits[0].Source, &doc); err != nil {
		return nil, fmt.Errorf("decode build %s: %w", id, err)
	}
	return &doc, nil
}

// FailuresByBuild searches all failure generations for a build's
// failures. A store that has never seen a failure has no failure
// index at all; that case is an empty result, not an error. Every
// other error status surfaces.
func (w *Writer) FailuresByBuild(ctx context.Context, buildID string) ([]report.FailureDocument, error) {
	hits, err := w.store.Search(ctx, w.idx.FailureSearch, docstore.Query{
		Terms: map[string]string{"build-id": buildID},
	})
	if errors.Is(err, docstore.ErrIndexNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search failures for %s: %w", buildID, err)
	}

	failures := make([]report.FailureDocument, 0, len(hits))
	for _, h := range hits {
		var f report.FailureDocument
		if err := json.Unmarshal(h.Source, &f); err != nil {
			return nil, fmt.Errorf("decode failure %s: %w", h.ID, err)
		}
		failures = append(failures, f)
	}
	return failures, nil
}

// CountLogs counts stored lines for one build and one stream. Both
// terms must match.
func (w *Writer) CountLogs(ctx context.Context, buildID, stream string) (int64, error) {
	count, err := w.store.Count(ctx, w.idx.LogSearch, docstore.Query{
		Terms: map[string]string{"build-id": buildID, "stream": stream},
	})
	if err != nil {
		return 0, fmt.Errorf("count logs for %s/%s: %w", buildID, stream, err)
	}
	return count, nil
}

// LogsByBuild returns a build's log lines across all generations,
// ordered by total ordinal.
func (w *Writer) LogsByBuild(ctx context.Context, buildID string) ([]report.LogLine, error) {
	hits, err := w.store.Search(ctx, w.idx.LogSearch, docstore.Query{
		Terms:     map[string]string{"build-id": buildID},
		SortField: "ord.total",
	})
	if err != nil {
		return nil, fmt.Errorf("search logs for %s: %w", buildID, err)
	}

	lines := make([]report.LogLine, 0, len(hits))
	for _, h := range hits {
		var l report.LogLine
		if err := json.Unmarshal(h.Source, &l); err != nil {
			return nil, fmt.Errorf("decode log line %s: %w", h.ID, err)
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// BulkWrite sends one bulk request carrying all given lines to the
// log write generation. No-op on empty input; an empty bulk request
// is never issued. Line ids are deterministic, so re-flushing after a
// partial failure upserts instead of duplicating.
func (w *Writer) BulkWrite(ctx context.Context, lines []report.LogLine) error {
	if len(lines) == 0 {
		return nil
	}
	docs := make([]docstore.Doc, 0, len(lines))
	for i := range lines {
		body, err := json.Marshal(&lines[i])
		if err != nil {
			return fmt.Errorf("encode log line: %w", err)
		}
		docs = append(docs, docstore.Doc{ID: lineID(lines[i]), Body: body})
	}
	if err := w.store.Bulk(ctx, w.idx.LogWrite, docs); err != nil {
		return fmt.Errorf("bulk write %d lines: %w", len(docs), err)
	}
	return nil
}

// lineID derives a stable document id from a line's position, making
// at-least-once delivery idempotent at the store.
func lineID(l report.LogLine) string {
	return fmt.Sprintf("%s-%s-%d", l.BuildID, l.Stream, l.Ord.Stream)
}
