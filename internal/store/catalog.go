package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// catalog persists classes, objects, references, and embeddings in SQLite.
// It is the authoritative record; BM25 and HNSW indexes are derived from it.
type catalog struct {
	db *sql.DB
}

func openCatalog(path string) (*catalog, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite; DSN params may
	// be ignored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	c := &catalog{db: db}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return c, nil
}

func (c *catalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS classes (
		name       TEXT PRIMARY KEY,
		def        TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS objects (
		id         TEXT PRIMARY KEY,
		class      TEXT NOT NULL,
		props      TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_objects_class_created
		ON objects(class, created_at DESC);

	CREATE TABLE IF NOT EXISTS refs (
		from_id   TEXT NOT NULL,
		from_prop TEXT NOT NULL,
		to_id     TEXT NOT NULL,
		PRIMARY KEY (from_id, from_prop, to_id)
	);
	CREATE INDEX IF NOT EXISTS idx_refs_to ON refs(to_id);

	CREATE TABLE IF NOT EXISTS embeddings (
		object_id TEXT PRIMARY KEY,
		class     TEXT NOT NULL,
		model     TEXT NOT NULL,
		vector    BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_class ON embeddings(class);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := c.db.Exec(schema)
	return err
}

func (c *catalog) close() error {
	return c.db.Close()
}

// --- classes ---

func (c *catalog) createClass(ctx context.Context, def *ClassDef) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal class def: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO classes (name, def, created_at) VALUES (?, ?, ?)`,
		def.Class, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: %s", ErrClassExists, def.Class)
		}
		return classifyStoreError(err)
	}
	return nil
}

func (c *catalog) classExists(ctx context.Context, class string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM classes WHERE name = ?`, class).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classifyStoreError(err)
	}
	return true, nil
}

func (c *catalog) listClasses(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM classes ORDER BY name`)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classifyStoreError(err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (c *catalog) getClass(ctx context.Context, class string) (*ClassDef, error) {
	var data string
	err := c.db.QueryRowContext(ctx,
		`SELECT def FROM classes WHERE name = ?`, class).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, class)
	}
	if err != nil {
		return nil, classifyStoreError(err)
	}

	var def ClassDef
	if err := json.Unmarshal([]byte(data), &def); err != nil {
		return nil, fmt.Errorf("corrupt class def for %s: %w", class, err)
	}
	return &def, nil
}

// dropClass removes the class row and every object, reference, and embedding
// belonging to it, in one transaction.
func (c *catalog) dropClass(ctx context.Context, class string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyStoreError(err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`DELETE FROM refs WHERE from_id IN (SELECT id FROM objects WHERE class = ?)`,
		`DELETE FROM refs WHERE to_id IN (SELECT id FROM objects WHERE class = ?)`,
		`DELETE FROM embeddings WHERE class = ?`,
		`DELETE FROM objects WHERE class = ?`,
		`DELETE FROM classes WHERE name = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, class); err != nil {
			return classifyStoreError(err)
		}
	}
	return tx.Commit()
}

// --- objects ---

func (c *catalog) insertObjects(ctx context.Context, objs []*Object) error {
	if len(objs) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyStoreError(err)
	}
	defer func() { _ = tx.Rollback() }()

	// OR REPLACE keeps shard flushes idempotent so a retried shard does not
	// trip the primary key on rows its first attempt already committed.
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO objects (id, class, props, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return classifyStoreError(err)
	}
	defer func() { _ = stmt.Close() }()

	for _, o := range objs {
		props, err := json.Marshal(o.Properties)
		if err != nil {
			return fmt.Errorf("marshal object props: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, o.ID, o.Class, string(props),
			o.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return classifyStoreError(err)
		}
	}
	return tx.Commit()
}

func (c *catalog) insertRefs(ctx context.Context, refs [][3]string) error {
	if len(refs) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyStoreError(err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO refs (from_id, from_prop, to_id) VALUES (?, ?, ?)`)
	if err != nil {
		return classifyStoreError(err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range refs {
		if _, err := stmt.ExecContext(ctx, r[0], r[1], r[2]); err != nil {
			return classifyStoreError(err)
		}
	}
	return tx.Commit()
}

func (c *catalog) getObject(ctx context.Context, class, id string) (*Object, error) {
	var props, createdAt string
	err := c.db.QueryRowContext(ctx,
		`SELECT props, created_at FROM objects WHERE id = ? AND class = ?`,
		id, class).Scan(&props, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, class, id)
	}
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return buildObject(id, class, props, createdAt)
}

func (c *catalog) getObjects(ctx context.Context, class string, ids []string) (map[string]*Object, error) {
	if len(ids) == 0 {
		return map[string]*Object{}, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, class)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, props, created_at FROM objects WHERE class = ? AND id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*Object, len(ids))
	for rows.Next() {
		var id, props, createdAt string
		if err := rows.Scan(&id, &props, &createdAt); err != nil {
			return nil, classifyStoreError(err)
		}
		obj, err := buildObject(id, class, props, createdAt)
		if err != nil {
			return nil, err
		}
		out[id] = obj
	}
	return out, rows.Err()
}

func (c *catalog) listObjects(ctx context.Context, class string, limit int) ([]*Object, error) {
	q := `SELECT id, props, created_at FROM objects WHERE class = ?
	      ORDER BY created_at DESC, id ASC`
	args := []any{class}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Object
	for rows.Next() {
		var id, props, createdAt string
		if err := rows.Scan(&id, &props, &createdAt); err != nil {
			return nil, classifyStoreError(err)
		}
		obj, err := buildObject(id, class, props, createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

func (c *catalog) deleteObjects(ctx context.Context, class string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classifyStoreError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var deleted int64
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM refs WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
			return 0, classifyStoreError(err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM embeddings WHERE object_id = ?`, id); err != nil {
			return 0, classifyStoreError(err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM objects WHERE id = ? AND class = ?`, id, class)
		if err != nil {
			return 0, classifyStoreError(err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, classifyStoreError(err)
	}
	return deleted, nil
}

// refTargets resolves a reference property for the given object ids, joining
// target objects so callers get display properties without a second query.
func (c *catalog) refTargets(ctx context.Context, fromIDs []string, prop string) (map[string][]RefTarget, error) {
	if len(fromIDs) == 0 {
		return map[string][]RefTarget{}, nil
	}
	placeholders := strings.Repeat("?,", len(fromIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(fromIDs)+1)
	args = append(args, prop)
	for _, id := range fromIDs {
		args = append(args, id)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT r.from_id, o.id, o.class, o.props
		FROM refs r JOIN objects o ON o.id = r.to_id
		WHERE r.from_prop = ? AND r.from_id IN (`+placeholders+`)
		ORDER BY o.created_at ASC, o.id ASC`,
		args...)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]RefTarget)
	for rows.Next() {
		var fromID, toID, toClass, props string
		if err := rows.Scan(&fromID, &toID, &toClass, &props); err != nil {
			return nil, classifyStoreError(err)
		}
		var parsed map[string]string
		if err := json.Unmarshal([]byte(props), &parsed); err != nil {
			return nil, fmt.Errorf("corrupt props for object %s: %w", toID, err)
		}
		out[fromID] = append(out[fromID], RefTarget{ID: toID, Class: toClass, Properties: parsed})
	}
	return out, rows.Err()
}

// --- embeddings ---

func (c *catalog) saveEmbeddings(ctx context.Context, class, model string, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyStoreError(err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO embeddings (object_id, class, model, vector) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return classifyStoreError(err)
	}
	defer func() { _ = stmt.Close() }()

	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, class, model, encodeVector(vectors[i])); err != nil {
			return classifyStoreError(err)
		}
	}
	return tx.Commit()
}

// classEmbeddings loads every persisted embedding of a class, used to rebuild
// the in-memory HNSW graph on open.
func (c *catalog) classEmbeddings(ctx context.Context, class string) (map[string][]float32, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT object_id, vector FROM embeddings WHERE class = ?`, class)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, classifyStoreError(err)
		}
		out[id] = decodeVector(blob)
	}
	return out, rows.Err()
}

func buildObject(id, class, props, createdAt string) (*Object, error) {
	var parsed map[string]string
	if err := json.Unmarshal([]byte(props), &parsed); err != nil {
		return nil, fmt.Errorf("corrupt props for object %s: %w", id, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		ts = time.Time{}
	}
	return &Object{ID: id, Class: class, Properties: parsed, CreatedAt: ts}, nil
}

// encodeVector packs float32s little-endian for BLOB storage.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
