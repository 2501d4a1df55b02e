package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fluxorio/fluxtools/pkg/core/failfast"
	"github.com/fluxorio/fluxtools/pkg/db"
	"github.com/fluxorio/fluxtools/pkg/envelope"
)

// QueryRecorder receives the duration of each store query.
type QueryRecorder interface {
	RecordDatabaseQuery(operation string, duration time.Duration)
}

// SQLStore persists catalog entries in a relational database.
type SQLStore struct {
	pool     *db.Pool
	table    string
	recorder QueryRecorder
}

// StoreOption configures a SQLStore
type StoreOption func(*SQLStore)

// WithTable overrides the table name (default "catalog_entries").
func WithTable(name string) StoreOption {
	return func(s *SQLStore) { s.table = name }
}

// WithQueryRecorder reports query durations to r.
func WithQueryRecorder(r QueryRecorder) StoreOption {
	return func(s *SQLStore) { s.recorder = r }
}

// NewSQLStore creates a store on pool. Call Migrate before first use.
func NewSQLStore(pool *db.Pool, opts ...StoreOption) *SQLStore {
	failfast.NotNil(pool, "pool")
	s := &SQLStore{pool: pool, table: "catalog_entries"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the entry table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	defer s.record("migrate", time.Now())
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	category    TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '[]',
	operation   TEXT NOT NULL DEFAULT ''
)`, s.table))
	if err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// Save inserts or updates e.
func (s *SQLStore) Save(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return fmt.Errorf("encode tags of %s: %w", e.ID, err)
	}
	if e.Tags == nil {
		tags = []byte("[]")
	}

	defer s.record("exec", time.Now())
	q := fmt.Sprintf(`INSERT INTO %s (id, name, kind, category, description, tags, operation)
VALUES (%s)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	kind = excluded.kind,
	category = excluded.category,
	description = excluded.description,
	tags = excluded.tags,
	operation = excluded.operation`, s.table, s.pool.Dialect().Placeholders(7))

	_, err = s.pool.Exec(ctx, q, e.ID, e.Name, string(e.Kind), e.Category, e.Description, string(tags), string(e.Operation))
	if err != nil {
		return fmt.Errorf("save %s: %w", e.ID, err)
	}
	return nil
}

// Delete removes the entry with id and reports whether it existed.
func (s *SQLStore) Delete(ctx context.Context, id string) (bool, error) {
	defer s.record("exec", time.Now())
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.table, s.pool.Dialect().Placeholder(1))
	res, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LoadAll returns every stored entry ordered by id.
func (s *SQLStore) LoadAll(ctx context.Context) ([]Entry, error) {
	defer s.record("query", time.Now())
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, name, kind, category, description, tags, operation FROM %s ORDER BY id`, s.table))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.table, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e               Entry
			kind, tags, op string
		)
		if err := rows.Scan(&e.ID, &e.Name, &kind, &e.Category, &e.Description, &tags, &op); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		e.Kind, e.Operation = Kind(kind), envelope.Operation(op)
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", e.ID, err)
		}
		if len(e.Tags) == 0 {
			e.Tags = nil
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Load registers every stored entry in c and returns how many were loaded.
func (s *SQLStore) Load(ctx context.Context, c *Catalog) (int, error) {
	entries, err := s.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := c.Register(e); err != nil {
			return 0, fmt.Errorf("load %s: %w", e.ID, err)
		}
	}
	return len(entries), nil
}

// Sync writes every entry of c to the store.
func (s *SQLStore) Sync(ctx context.Context, c *Catalog) error {
	for _, e := range c.List() {
		if err := s.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) record(op string, start time.Time) {
	if s.recorder != nil {
		s.recorder.RecordDatabaseQuery(op, time.Since(start))
	}
}
