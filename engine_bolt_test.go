package carton

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltEndToEnd(t *testing.T) {
	ctx := context.Background()
	db, _ := newBoltTestDB(t)

	mustCreate(t, db, "users", IndexSpec{Name: "email", Unique: true}, IndexSpec{Name: "team"})

	k1 := mustInsert(t, db, "users", Record{"email": "a@example.com", "team": "red"})
	k2 := mustInsert(t, db, "users", Record{"email": "b@example.com", "team": "red"})
	assert.Less(t, k1, k2, "synthetic keys grow monotonically")

	_, err := db.Insert(ctx, "users", Record{"email": "a@example.com"})
	assert.ErrorIs(t, err, ErrConstraintViolation)

	rec, err := db.SelectByIndex(ctx, "users", "email", "b@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "red", rec["team"])

	deleted, err := db.DeleteByIndex(ctx, "users", "team", "red", true)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	recs, err := db.SelectAll(ctx, "users", nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestBoltRenameMigration(t *testing.T) {
	ctx := context.Background()
	db, _ := newBoltTestDB(t)

	mustCreate(t, db, "things", IndexSpec{Name: "a"})
	mustInsert(t, db, "things", Record{"a": 1, "c": 2})
	mustInsert(t, db, "things", Record{"c": 3})

	require.NoError(t, db.UpdateContainerStructure(ctx, "things",
		nil, nil, []RenameRule{{OldName: "a", NewName: "b"}}))

	recs, err := db.SelectAll(ctx, "things", nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, Record{"b": int64(1), "c": int64(2)}, recs[0])

	rec, err := db.SelectByIndex(ctx, "things", "b", 1, nil)
	require.NoError(t, err)
	assert.NotNil(t, rec)

	_, err = db.SelectByIndex(ctx, "things", "a", 1, nil)
	assert.ErrorIs(t, err, ErrNoSuchIndex)
}

func TestBoltRenameRollsBackAtomically(t *testing.T) {
	ctx := context.Background()
	db, _ := newBoltTestDB(t)

	mustCreate(t, db, "items", IndexSpec{Name: "v"})
	mustInsert(t, db, "items", Record{"v": "a"})
	mustInsert(t, db, "items", Record{"v": "a"})

	err := db.UpdateContainerStructure(ctx, "items",
		nil, nil, []RenameRule{{OldName: "v", NewName: "u", Unique: true}})
	require.ErrorIs(t, err, ErrConstraintViolation)

	v, err := db.Version(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	recs, err := db.SelectAll(ctx, "items", nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, "a", rec["v"])
	}
	exists, err := db.IndexesExist(ctx, "items", []string{"v", "u"})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, exists)
}

func TestBoltPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	eng, err := OpenBoltEngine(dir, BoltOptions{IsTesting: true})
	require.NoError(t, err)
	db, err := New(eng, "persist", Options{
		Logger: discardLogger(),
		Now:    func() time.Time { return testTime },
	})
	require.NoError(t, err)

	mustCreate(t, db, "users", IndexSpec{Name: "email", Unique: true})
	mustInsert(t, db, "users", Record{"email": "a@example.com", "name": "ada"})
	require.NoError(t, eng.Close())

	eng2, err := OpenBoltEngine(dir, BoltOptions{IsTesting: true})
	require.NoError(t, err)
	t.Cleanup(func() { eng2.Close() })
	db2, err := New(eng2, "persist", Options{Logger: discardLogger()})
	require.NoError(t, err)

	v, err := db2.Version(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	rec, err := db2.SelectByIndex(ctx, "users", "email", "a@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "ada", rec["name"])

	ts, ok, err := db2.LastModified(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-05-04T12:30:00Z", ts)

	_, err = db2.Insert(ctx, "users", Record{"email": "a@example.com"})
	assert.ErrorIs(t, err, ErrConstraintViolation, "unique indexes survive a reopen")
}

func TestBoltClearKeepsKeysGrowing(t *testing.T) {
	ctx := context.Background()
	db, _ := newBoltTestDB(t)

	mustCreate(t, db, "items")
	mustInsert(t, db, "items", Record{"n": 1})
	k2 := mustInsert(t, db, "items", Record{"n": 2})

	require.NoError(t, db.DeleteAll(ctx, "items"))

	k3 := mustInsert(t, db, "items", Record{"n": 3})
	assert.Greater(t, k3, k2, "keys are never reissued after a clear")
}

func TestBoltDeleteDatabaseRemovesFile(t *testing.T) {
	ctx := context.Background()
	db, eng := newBoltTestDB(t)
	mustCreate(t, db, "users")

	exists, err := eng.Exists("testdb")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, db.DeleteDatabase(ctx))

	exists, err = eng.Exists("testdb")
	require.NoError(t, err)
	assert.False(t, exists)
}
