package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fluxorio/fluxtools/pkg/db"
	"github.com/fluxorio/fluxtools/pkg/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queryLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *queryLog) RecordDatabaseQuery(op string, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func newTestStore(t *testing.T, opts ...StoreOption) *SQLStore {
	t.Helper()

	cfg := db.DefaultPoolConfig(db.DriverSQLite, ":memory:")
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	cfg.ConnMaxLifetime = 0
	cfg.ConnMaxIdleTime = 0

	pool, err := db.NewPool(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	s := NewSQLStore(pool, opts...)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := Entry{
		ID: "hash-generator", Name: "Hash Generator", Kind: KindTool, Category: "Crypto",
		Description: "digests", Tags: []string{"md5", "sha256"}, Operation: envelope.OpHashText,
	}
	require.NoError(t, s.Save(ctx, e))
	require.NoError(t, s.Save(ctx, Entry{ID: "git", Name: "Git", Kind: KindCheatSheet, Category: "Reference"}))

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "git", all[0].ID)
	assert.Nil(t, all[0].Tags)
	assert.Equal(t, e, all[1])

	e.Name = "Hasher"
	require.NoError(t, s.Save(ctx, e))
	all, err = s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Hasher", all[1].Name)

	removed, err := s.Delete(ctx, "git")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.Delete(ctx, "git")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSQLStoreRejectsInvalidEntry(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Save(context.Background(), Entry{ID: "x"}))
}

func TestSQLStoreSyncAndLoad(t *testing.T) {
	ctx := context.Background()
	log := &queryLog{}
	s := newTestStore(t, WithQueryRecorder(log))

	require.NoError(t, s.Sync(ctx, NewDefault()))

	c := New()
	n, err := s.Load(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, len(Defaults()), n)
	assert.Equal(t, NewDefault().List(), c.List())

	assert.Contains(t, log.ops, "migrate")
	assert.Contains(t, log.ops, "exec")
	assert.Contains(t, log.ops, "query")
}

func TestSQLStoreCustomTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithTable("tools"))
	require.NoError(t, s.Save(ctx, Entry{ID: "a", Name: "A", Kind: KindTool, Category: "X"}))

	rows, err := s.pool.Query(ctx, "SELECT COUNT(*) FROM tools")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var n int
	require.NoError(t, rows.Scan(&n))
	assert.Equal(t, 1, n)
}
