// Package reportstore maps build reports onto document store indices:
// it resolves the write generation per logical index class, rotating by
// size, and reads and writes the report documents themselves.
package reportstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ehrlich-b/shiplog/internal/docstore"
)

// ErrMetadata means the store returned missing or malformed index
// metadata (creation date, size) and a rotation decision cannot be
// made safely.
var ErrMetadata = errors.New("index metadata unavailable")

// Class is a logical index class. Each class rotates independently.
type Class string

const (
	ClassBuild   Class = "build"
	ClassFailure Class = "failure"
	ClassLog     Class = "log"
)

// DefaultMaxBytes is the rotation threshold applied when a class has
// no explicit limit.
const DefaultMaxBytes int64 = 1 << 30 // 1 GiB

// Lifecycle decides which index generation receives writes for a
// logical class. It is meant to run once per class during setup;
// concurrent racing creation of the same generation is tolerated, but
// calls for the same class are not otherwise synchronized.
type Lifecycle struct {
	store docstore.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewLifecycle creates a lifecycle manager on top of an open store.
func NewLifecycle(store docstore.Store, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{store: store, log: logger, now: time.Now}
}

// ResolveWriteIndex returns the generation that receives writes for
// prefix. The newest existing generation is reused while its size is
// within maxBytes; otherwise a new generation named
// "<prefix>-<epochMillis>" is created from tmpl. A store that cannot
// report creation dates or sizes fails with ErrMetadata.
func (m *Lifecycle) ResolveWriteIndex(ctx context.Context, prefix string, tmpl docstore.Template, maxBytes int64) (string, error) {
	infos, err := m.store.ListIndices(ctx, prefix+"*")
	if err != nil {
		return "", fmt.Errorf("list indices %s*: %w", prefix, err)
	}
	if len(infos) == 0 {
		return m.createGeneration(ctx, prefix, tmpl, 0)
	}

	newest, lastMs, err := newestGeneration(prefix, infos)
	if err != nil {
		return "", err
	}

	stats, err := m.store.Stats(ctx, newest)
	if err != nil {
		return "", fmt.Errorf("stats %s: %w", newest, err)
	}
	if stats.SizeBytes == nil {
		return "", fmt.Errorf("%w: no size reported for %s", ErrMetadata, newest)
	}
	if *stats.SizeBytes <= maxBytes {
		return newest, nil
	}

	m.log.Info("rotating index",
		"prefix", prefix,
		"full", newest,
		"size_bytes", *stats.SizeBytes,
		"max_bytes", maxBytes)
	return m.createGeneration(ctx, prefix, tmpl, lastMs)
}

// createGeneration creates "<prefix>-<millis>" with millis strictly
// greater than after, so generation names stay sortable even when the
// clock has not advanced since the previous creation.
func (m *Lifecycle) createGeneration(ctx context.Context, prefix string, tmpl docstore.Template, after int64) (string, error) {
	ms := m.now().UnixMilli()
	if ms <= after {
		ms = after + 1
	}
	name := fmt.Sprintf("%s-%d", prefix, ms)

	err := m.store.CreateIndex(ctx, name, tmpl)
	if errors.Is(err, docstore.ErrIndexExists) {
		// a concurrent caller created it first; the generation is usable
		m.log.Debug("index already exists", "index", name)
		err = nil
	}
	if err != nil {
		return "", fmt.Errorf("create index %s: %w", name, err)
	}
	m.log.Info("created index generation", "index", name)
	return name, nil
}

// Generation is one concrete index generation of a logical class.
type Generation struct {
	Name      string
	Created   time.Time
	Docs      int64
	SizeBytes int64
}

// Generations lists the generations for a prefix, oldest first.
func (m *Lifecycle) Generations(ctx context.Context, prefix string) ([]Generation, error) {
	infos, err := m.store.ListIndices(ctx, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("list indices %s*: %w", prefix, err)
	}

	gens := make([]Generation, 0, len(infos))
	for _, inf := range infos {
		ms, err := creationMillis(inf)
		if err != nil {
			return nil, err
		}
		stats, err := m.store.Stats(ctx, inf.Name)
		if err != nil {
			return nil, fmt.Errorf("stats %s: %w", inf.Name, err)
		}
		if stats.SizeBytes == nil {
			return nil, fmt.Errorf("%w: no size reported for %s", ErrMetadata, inf.Name)
		}
		gens = append(gens, Generation{
			Name:      inf.Name,
			Created:   time.UnixMilli(ms),
			Docs:      stats.Docs,
			SizeBytes: *stats.SizeBytes,
		})
	}
	return gens, nil
}

// newestGeneration picks the index with the greatest creation date and
// also returns the greatest timestamp seen anywhere in the set, from
// settings or embedded in names, for monotonic naming of a successor.
func newestGeneration(prefix string, infos []docstore.IndexInfo) (string, int64, error) {
	var newest string
	var newestMs, lastMs int64
	for _, inf := range infos {
		ms, err := creationMillis(inf)
		if err != nil {
			return "", 0, err
		}
		if ms > newestMs {
			newestMs = ms
			newest = inf.Name
		}
		if ms > lastMs {
			lastMs = ms
		}
		if suffix, ok := strings.CutPrefix(inf.Name, prefix+"-"); ok {
			if nameMs, err := strconv.ParseInt(suffix, 10, 64); err == nil && nameMs > lastMs {
				lastMs = nameMs
			}
		}
	}
	return newest, lastMs, nil
}

func creationMillis(inf docstore.IndexInfo) (int64, error) {
	raw, ok := inf.Settings["creation_date"]
	if !ok {
		return 0, fmt.Errorf("%w: %s has no creation_date", ErrMetadata, inf.Name)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s creation_date %q is not epoch millis", ErrMetadata, inf.Name, raw)
	}
	return ms, nil
}

// Indices holds the write generation and search pattern resolved for
// each logical class. Created once during setup, immutable afterwards.
type Indices struct {
	BuildWrite   string
	FailureWrite string
	LogWrite     string

	BuildSearch   string
	FailureSearch string
	LogSearch     string
}

// Limits are per-class rotation thresholds in bytes. Zero means
// DefaultMaxBytes.
type Limits struct {
	Build   int64
	Failure int64
	Log     int64
}

// SearchIndices returns the cross-generation search patterns for
// basePrefix without resolving write generations. Read-only paths use
// this so that inspecting a store never creates an index.
func SearchIndices(basePrefix string) Indices {
	return Indices{
		BuildSearch:   basePrefix + "-" + string(ClassBuild) + "*",
		FailureSearch: basePrefix + "-" + string(ClassFailure) + "*",
		LogSearch:     basePrefix + "-" + string(ClassLog) + "*",
	}
}

// Setup resolves the write generation for all three classes under
// basePrefix (e.g. "shiplog" yields "shiplog-build-<millis>").
func Setup(ctx context.Context, m *Lifecycle, basePrefix string, limits Limits) (*Indices, error) {
	resolve := func(class Class, maxBytes int64) (string, error) {
		tmpl, err := TemplateFor(class)
		if err != nil {
			return "", err
		}
		if maxBytes <= 0 {
			maxBytes = DefaultMaxBytes
		}
		return m.ResolveWriteIndex(ctx, basePrefix+"-"+string(class), tmpl, maxBytes)
	}

	idx := SearchIndices(basePrefix)

	var err error
	if idx.BuildWrite, err = resolve(ClassBuild, limits.Build); err != nil {
		return nil, err
	}
	if idx.FailureWrite, err = resolve(ClassFailure, limits.Failure); err != nil {
		return nil, err
	}
	if idx.LogWrite, err = resolve(ClassLog, limits.Log); err != nil {
		return nil, err
	}
	return &idx, nil
}
