// Package archive moves retired index generations into object storage
// as gzipped NDJSON dumps, then drops them from the store.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ehrlich-b/shiplog/internal/docstore"
	"github.com/ehrlich-b/shiplog/internal/reportstore"
)

// ObjectPutter uploads one gzipped NDJSON archive object. Satisfied by
// *S3Target.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body []byte) error
}

// Archiver dumps index generations to an object store.
type Archiver struct {
	store  docstore.Store
	target ObjectPutter
	log    *slog.Logger
}

func New(store docstore.Store, target ObjectPutter, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, target: target, log: logger}
}

// archiveDoc is one NDJSON line of a dump: the document id alongside
// the document itself, so a dump can be reloaded.
type archiveDoc struct {
	ID  string          `json:"id"`
	Doc json.RawMessage `json:"doc"`
}

// Archive uploads every document of index under
// indices/<index>.ndjson.gz and then drops the index. The index is
// only dropped after the upload succeeded.
func (a *Archiver) Archive(ctx context.Context, index string) error {
	hits, err := a.store.Search(ctx, index, docstore.Query{})
	if err != nil {
		return fmt.Errorf("read %s: %w", index, err)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	for _, h := range hits {
		line, err := json.Marshal(archiveDoc{ID: h.ID, Doc: h.Source})
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", index, h.ID, err)
		}
		if _, err := gw.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("gzip compress: %w", err)
		}
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}

	key := "indices/" + index + ".ndjson.gz"
	if err := a.target.PutObject(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	if err := a.store.DeleteIndex(ctx, index); err != nil {
		return fmt.Errorf("drop %s: %w", index, err)
	}

	a.log.Info("archived index", "index", index, "docs", len(hits), "compressed_bytes", buf.Len())
	return nil
}

// Prune archives and drops all but the newest keep generations under
// prefix. The newest generation is the write target and is never
// dropped, so keep is clamped to at least 1. Returns the names of the
// dropped generations, oldest first.
func (a *Archiver) Prune(ctx context.Context, lc *reportstore.Lifecycle, prefix string, keep int) ([]string, error) {
	if keep < 1 {
		keep = 1
	}
	gens, err := lc.Generations(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(gens) <= keep {
		return nil, nil
	}

	var dropped []string
	for _, g := range gens[:len(gens)-keep] {
		if err := a.Archive(ctx, g.Name); err != nil {
			return dropped, err
		}
		dropped = append(dropped, g.Name)
	}
	return dropped, nil
}
