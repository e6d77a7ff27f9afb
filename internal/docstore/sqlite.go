package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite document store.
// Use ":memory:" for an in-memory store, or a file path for persistent storage.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable foreign keys and WAL mode for better performance
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS indices (
			name TEXT PRIMARY KEY,
			settings TEXT NOT NULL DEFAULT '{}',
			mapping TEXT NOT NULL DEFAULT '{}',
			created_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			index_name TEXT NOT NULL,
			id TEXT NOT NULL,
			body TEXT NOT NULL,
			size INTEGER NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (index_name, id),
			FOREIGN KEY (index_name) REFERENCES indices(name)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Indices ---

func (s *SQLiteStore) ListIndices(ctx context.Context, pattern string) ([]IndexInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, settings, created_ms FROM indices ORDER BY created_ms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []IndexInfo
	for rows.Next() {
		var name, settings string
		var createdMs int64
		if err := rows.Scan(&name, &settings, &createdMs); err != nil {
			return nil, err
		}
		if !matchesPattern(name, pattern) {
			continue
		}
		inf := IndexInfo{Name: name, Settings: map[string]string{}}
		if err := json.Unmarshal([]byte(settings), &inf.Settings); err != nil {
			return nil, fmt.Errorf("decode settings for %s: %w", name, err)
		}
		inf.Settings["creation_date"] = fmt.Sprintf("%d", createdMs)
		infos = append(infos, inf)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) CreateIndex(ctx context.Context, name string, tmpl Template) error {
	settings, mapping, err := encodeTemplate(tmpl)
	if err != nil {
		return err
	}

	// Stamp creation_date strictly after every existing index so
	// "newest" stays well-defined even for back-to-back creations.
	var maxMs sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_ms) FROM indices`).Scan(&maxMs); err != nil {
		return err
	}
	ms := time.Now().UnixMilli()
	if maxMs.Valid && ms <= maxMs.Int64 {
		ms = maxMs.Int64 + 1
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO indices (name, settings, mapping, created_ms)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, settings, mapping, ms)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrIndexExists
	}
	return nil
}

func (s *SQLiteStore) DeleteIndex(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE index_name = ?`, name); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM indices WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrIndexNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) Stats(ctx context.Context, index string) (*IndexStats, error) {
	if err := s.indexExists(ctx, index); err != nil {
		return nil, err
	}
	var docs, size int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM documents WHERE index_name = ?`,
		index).Scan(&docs, &size)
	if err != nil {
		return nil, err
	}
	return &IndexStats{Docs: docs, SizeBytes: &size}, nil
}

// --- Documents ---

func (s *SQLiteStore) Put(ctx context.Context, index, id string, body json.RawMessage, refresh bool) error {
	if err := s.indexExists(ctx, index); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (index_name, id, body, size, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(index_name, id) DO UPDATE SET
		   body = excluded.body, size = excluded.size, updated_at = excluded.updated_at`,
		index, id, string(body), len(body), time.Now())
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, index, id string) (json.RawMessage, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE index_name = ? AND id = ?`,
		index, id).Scan(&body)
	if err == sql.ErrNoRows {
		if err := s.indexExists(ctx, index); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (s *SQLiteStore) Search(ctx context.Context, pattern string, q Query) ([]Hit, error) {
	names, err := s.matchIndices(ctx, pattern)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrIndexNotFound
	}

	query := `SELECT index_name, id, body FROM documents WHERE index_name IN (` +
		placeholders(len(names)) + `)`
	args := make([]any, 0, len(names)+len(q.Terms))
	for _, n := range names {
		args = append(args, n)
	}
	for field, value := range q.Terms {
		query += ` AND json_extract(body, '` + sqliteJSONPath(field) + `') = ?`
		args = append(args, value)
	}
	if q.SortField != "" {
		query += ` ORDER BY CAST(json_extract(body, '` + sqliteJSONPath(q.SortField) + `') AS INTEGER)`
	}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var body string
		if err := rows.Scan(&h.Index, &h.ID, &body); err != nil {
			return nil, err
		}
		h.Source = json.RawMessage(body)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context, pattern string, q Query) (int64, error) {
	names, err := s.matchIndices(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		return 0, ErrIndexNotFound
	}

	query := `SELECT COUNT(*) FROM documents WHERE index_name IN (` +
		placeholders(len(names)) + `)`
	args := make([]any, 0, len(names)+len(q.Terms))
	for _, n := range names {
		args = append(args, n)
	}
	for field, value := range q.Terms {
		query += ` AND json_extract(body, '` + sqliteJSONPath(field) + `') = ?`
		args = append(args, value)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLiteStore) Bulk(ctx context.Context, index string, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}
	if err := s.indexExists(ctx, index); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (index_name, id, body, size, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(index_name, id) DO UPDATE SET
		   body = excluded.body, size = excluded.size, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, d := range docs {
		if _, err := stmt.ExecContext(ctx, index, d.ID, string(d.Body), len(d.Body), now); err != nil {
			return fmt.Errorf("bulk write %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// --- helpers ---

func (s *SQLiteStore) indexExists(ctx context.Context, name string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM indices WHERE name = ?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrIndexNotFound
	}
	return err
}

func (s *SQLiteStore) matchIndices(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM indices ORDER BY created_ms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if matchesPattern(name, pattern) {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// sqliteJSONPath converts a query field like "ord.total" into a
// json_extract path: $."ord"."total".
func sqliteJSONPath(field string) string {
	path := "$"
	for _, seg := range fieldSegments(field) {
		path += `."` + seg + `"`
	}
	return path
}

func encodeTemplate(tmpl Template) (settings, mapping string, err error) {
	settings = "{}"
	if tmpl.Settings != nil {
		b, err := json.Marshal(tmpl.Settings)
		if err != nil {
			return "", "", fmt.Errorf("encode settings: %w", err)
		}
		settings = string(b)
	}
	mapping = "{}"
	if len(tmpl.Mapping) > 0 {
		mapping = string(tmpl.Mapping)
	}
	return settings, mapping, nil
}
