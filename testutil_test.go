package carton

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 5, 4, 12, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) (*DB, *MemEngine) {
	t.Helper()
	eng := NewMemEngine()
	t.Cleanup(func() { eng.Close() })
	db, err := New(eng, "testdb", Options{
		Logger: discardLogger(),
		Now:    func() time.Time { return testTime },
	})
	require.NoError(t, err)
	return db, eng
}

func newBoltTestDB(t *testing.T) (*DB, *BoltEngine) {
	t.Helper()
	eng, err := OpenBoltEngine(t.TempDir(), BoltOptions{IsTesting: true})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	db, err := New(eng, "testdb", Options{
		Logger: discardLogger(),
		Now:    func() time.Time { return testTime },
	})
	require.NoError(t, err)
	return db, eng
}

func mustCreate(t *testing.T, db *DB, container string, specs ...IndexSpec) {
	t.Helper()
	status, err := db.CreateContainer(context.Background(), container, specs)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, status)
}

func mustInsert(t *testing.T, db *DB, container string, rec Record) uint64 {
	t.Helper()
	key, err := db.Insert(context.Background(), container, rec)
	require.NoError(t, err)
	return key
}
