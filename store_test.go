package carton

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndSelectRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustCreate(t, db, "users", IndexSpec{Name: "email", Unique: true})

	key := mustInsert(t, db, "users", Record{"email": "ada@example.com", "name": "ada"})
	assert.NotZero(t, key)

	rec, err := db.SelectByIndex(ctx, "users", "email", "ada@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, Record{"email": "ada@example.com", "name": "ada"}, rec)
}

func TestInsertErrors(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustCreate(t, db, "users", IndexSpec{Name: "email", Unique: true})

	_, err := db.Insert(ctx, "ghosts", Record{"a": 1})
	assert.ErrorIs(t, err, ErrNoSuchContainer)

	var invalid *InvalidArgumentError
	_, err = db.Insert(ctx, "users", nil)
	assert.ErrorAs(t, err, &invalid)
}

func TestUniqueIndexEnforcement(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustCreate(t, db, "users", IndexSpec{Name: "email", Unique: true})

	mustInsert(t, db, "users", Record{"email": "ada@example.com"})

	_, err := db.Insert(ctx, "users", Record{"email": "ada@example.com"})
	require.ErrorIs(t, err, ErrConstraintViolation)

	// The first record must remain queryable.
	rec, err := db.SelectByIndex(ctx, "users", "email", "ada@example.com", nil)
	require.NoError(t, err)
	require.NotNil(t, rec)

	recs, err := db.SelectAll(ctx, "users", nil)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestInsertManyAllOrNothing(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustCreate(t, db, "users", IndexSpec{Name: "email", Unique: true})

	err := db.InsertMany(ctx, "users", []Record{
		{"email": "a@example.com"},
		{"email": "b@example.com"},
		{"email": "a@example.com"}, // duplicate, fails the batch
	})
	require.ErrorIs(t, err, ErrConstraintViolation)

	recs, err := db.SelectAll(ctx, "users", nil)
	require.NoError(t, err)
	assert.Empty(t, recs, "a failed batch must persist nothing")

	require.NoError(t, db.InsertMany(ctx, "users", []Record{
		{"email": "a@example.com"},
		{"email": "b@example.com"},
	}))
	recs, err = db.SelectAll(ctx, "users", nil)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestSelectByIndexMissAndProjection(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustCreate(t, db, "users", IndexSpec{Name: "email", Unique: true})
	mustInsert(t, db, "users", Record{"email": "a@example.com", "name": "ada", "age": 36})

	rec, err := db.SelectByIndex(ctx, "users", "email", "nobody@example.com", nil)
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = db.SelectByIndex(ctx, "users", "email", "a@example.com", []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, Record{"name": "ada"}, rec)

	rec, err = db.SelectByIndex(ctx, "users", "email", "a@example.com", []string{"ghost"})
	require.NoError(t, err)
	assert.Nil(t, rec, "projection with no present fields yields nil")

	_, err = db.SelectByIndex(ctx, "users", "ghost", "x", nil)
	assert.ErrorIs(t, err, ErrNoSuchIndex)
}

func TestSelectAllByIndexDegradesPerEntry(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustCreate(t, db, "users", IndexSpec{Name: "email", Unique: true}, IndexSpec{Name: "name"})
	mustInsert(t, db, "users", Record{"email": "a@example.com", "name": "ada"})
	mustInsert(t, db, "users", Record{"email": "b@example.com", "name": "bob"})

	recs, err := db.SelectAllByIndex(ctx, "users", []IndexQuery{
		{Index: "email", Value: "b@example.com"},
		{Index: "ghost", Value: "x"}, // undeclared index degrades to nil
		{Index: "name", Value: "ada", Fields: []string{"email"}},
		{Index: "email", Value: "missing@example.com"},
	})
	require.NoError(t, err, "per-entry failures must not reject the call")
	require.Len(t, recs, 4)
	assert.Equal(t, Record{"email": "b@example.com", "name": "bob"}, recs[0])
	assert.Nil(t, recs[1])
	assert.Equal(t, Record{"email": "a@example.com"}, recs[2])
	assert.Nil(t, recs[3])
}

func TestSelectAllProjection(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustCreate(t, db, "mixed", IndexSpec{Name: "k"})
	mustInsert(t, db, "mixed", Record{"k": 1, "v": "a"})
	mustInsert(t, db, "mixed", Record{"k": 2})
	mustInsert(t, db, "mixed", Record{"k": 3, "v": "b"})

	recs, err := db.SelectAll(ctx, "mixed", []string{"v"})
	require.NoError(t, err)
	require.Len(t, recs, 2, "records without any requested field are dropped")
	assert.Equal(t, Record{"v": "a"}, recs[0])
	assert.Equal(t, Record{"v": "b"}, recs[1])
}

func TestUpdateByIndexUpdatesAllMatches(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustCreate(t, db, "items", IndexSpec{Name: "state"})
	mustInsert(t, db, "items", Record{"state": "open", "n": 1})
	mustInsert(t, db, "items", Record{"state": "closed", "n": 2})
	mustInsert(t, db, "items", Record{"state": "open", "n": 3})

	updated, err := db.UpdateByIndex(ctx, "items", "state", "open", "done", true, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	recs, err := db.SelectAll(ctx, "items", nil)
	require.NoError(t, err)
	states := []any{recs[0]["state"], recs[1]["state"], recs[2]["state"]}
	assert.Equal(t, []any{"done", "closed", "done"}, states)
}

func TestUpdateByIndexOtherUpdatesOnlyPresentFields(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustCreate(t, db, "items", IndexSpec{Name: "state"})
	mustInsert(t, db, "items", Record{"state": "open", "owner": "ada"})
	mustInsert(t, db, "items", Record{"state": "open"})

	updated, err := db.UpdateByIndex(ctx, "items", "state", "open", "open", false,
		[]FieldUpdate{{Name: "owner", Value: "bob"}})
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	recs, err := db.SelectAll(ctx, "items", nil)
	require.NoError(t, err)
	assert.Equal(t, "bob", recs[0]["owner"])
	assert.NotContains(t, recs[1], "owner", "absent fields must not be introduced")
}

func TestUpdateByIndexSinglePass(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustCreate(t, db, "items", IndexSpec{Name: "v"})
	mustInsert(t, db, "items", Record{"v": int64(1)})
	mustInsert(t, db, "items", Record{"v": int64(1)})

	// Matching and overwriting the same field with the same value: each
	// record is matched against its pre-scan value and updated once.
	updated, err := db.UpdateByIndex(ctx, "items", "v", int64(1), int64(1), true, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)
}

func TestDeleteByIndex(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustCreate(t, db, "items", IndexSpec{Name: "v"})
	mustInsert(t, db, "items", Record{"k": 1, "v": "a"})
	mustInsert(t, db, "items", Record{"k": 2, "v": "a"})
	mustInsert(t, db, "items", Record{"k": 3, "v": "b"})

	// deleteAll=false removes only the first match in key order.
	deleted, err := db.DeleteByIndex(ctx, "items", "v", "a", false)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	recs, err := db.SelectAll(ctx, "items", nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.EqualValues(t, 2, recs[0]["k"])

	_, err = db.DeleteByIndex(ctx, "items", "ghost", "a", false)
	assert.ErrorIs(t, err, ErrNoSuchIndex)
}

func TestDeleteByIndexAllOccurrences(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustCreate(t, db, "items", IndexSpec{Name: "v"})
	mustInsert(t, db, "items", Record{"k": 1, "v": "a"})
	mustInsert(t, db, "items", Record{"k": 2, "v": "a"})
	mustInsert(t, db, "items", Record{"k": 3, "v": "b"})

	deleted, err := db.DeleteByIndex(ctx, "items", "v", "a", true)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	recs, err := db.SelectAll(ctx, "items", nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.EqualValues(t, 3, recs[0]["k"])
	assert.Equal(t, "b", recs[0]["v"])
}

func TestDeleteAllAndClean(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustCreate(t, db, "items", IndexSpec{Name: "v"})
	mustInsert(t, db, "items", Record{"v": "a"})
	mustInsert(t, db, "items", Record{"v": "b"})

	require.NoError(t, db.DeleteAll(ctx, "items"))

	recs, err := db.SelectAll(ctx, "items", nil)
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Container and indexes stay declared.
	ok, err := db.IndexExists(ctx, "items", "v")
	require.NoError(t, err)
	assert.True(t, ok)

	mustInsert(t, db, "items", Record{"v": "c"})
	require.NoError(t, db.Clean(ctx, "items"))
	recs, err = db.SelectAll(ctx, "items", nil)
	require.NoError(t, err)
	assert.Empty(t, recs)

	v, err := db.Version(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v, "CRUD never changes the version")
}
