package docstore

import "fmt"

// Store backends
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Options configures Open.
type Options struct {
	Backend string // "sqlite" (default) or "postgres"
	DSN     string
}

// Open opens a document store handle from connection options. Every
// component that talks to the store receives the returned handle at
// construction time; the handle is safe for concurrent use.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		return NewSQLite(opts.DSN)
	case BackendPostgres:
		return NewPostgres(opts.DSN)
	default:
		return nil, fmt.Errorf("unknown docstore backend %q", opts.Backend)
	}
}
