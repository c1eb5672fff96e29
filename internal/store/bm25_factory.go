package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
)

// NewBM25Index creates a BM25Index using the configured backend.
//
// backend options:
//   - "sqlite" (default): FTS5 inside the catalog database, pure Go
//   - "bleve": per-class Bleve v2 indexes under dataDir/bleve
//
// The SQLite backend shares the catalog's database handle so keyword rows
// live in the same file as the objects they index.
func NewBM25Index(backend BM25Backend, db *sql.DB, dataDir string) (BM25Index, error) {
	switch backend {
	case BM25BackendSQLite, "":
		return NewSQLiteBM25Index(db)
	case BM25BackendBleve:
		var root string
		if dataDir != "" {
			root = filepath.Join(dataDir, "bleve")
		}
		return NewBleveBM25Index(root)
	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}
