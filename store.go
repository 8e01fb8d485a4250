package carton

import (
	"context"
)

// IndexQuery is one entry of a SelectAllByIndex batch: an index name,
// the value to match, and an optional field projection.
type IndexQuery struct {
	Index  string
	Value  any
	Fields []string
}

// FieldUpdate sets one field to a value during UpdateByIndex. It only
// applies to fields already present on a matched record.
type FieldUpdate struct {
	Name  string
	Value any
}

// Insert stores a record in a container and returns the synthetic key
// assigned by the store. Fails with ErrNoSuchContainer if the container
// is undeclared and ErrConstraintViolation if a unique index rejects
// one of the record's values.
func (db *DB) Insert(ctx context.Context, container string, rec Record) (uint64, error) {
	if isBlankString(container) {
		return 0, invalidArgf("container", "container name must be a non-empty string")
	}
	if rec == nil {
		return 0, invalidArgf("record", "record must not be nil")
	}
	var key uint64
	err := db.withWrite(ctx, container, func(c Container) error {
		var err error
		key, err = c.Add(rec)
		return err
	})
	return key, err
}

// InsertMany stores records all-or-nothing within one read-write
// transaction: if any individual add fails, the transaction aborts and
// no record is persisted.
func (db *DB) InsertMany(ctx context.Context, container string, recs []Record) error {
	if isBlankString(container) {
		return invalidArgf("container", "container name must be a non-empty string")
	}
	for i, rec := range recs {
		if rec == nil {
			return invalidArgf("records", "record %d is nil", i)
		}
	}
	return db.withWrite(ctx, container, func(c Container) error {
		for _, rec := range recs {
			if _, err := c.Add(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// SelectByIndex returns the first record whose indexed field equals
// value, or nil if none matches. Fails with ErrNoSuchIndex if the index
// is undeclared. With a non-empty fields list, only the requested
// subset is returned; a matching record holding none of the requested
// fields yields nil.
func (db *DB) SelectByIndex(ctx context.Context, container, index string, value any, fields []string) (Record, error) {
	if isBlankString(container) {
		return nil, invalidArgf("container", "container name must be a non-empty string")
	}
	if isBlankString(index) {
		return nil, invalidArgf("index", "index name must be a non-empty string")
	}
	var result Record
	err := db.withRead(ctx, container, func(c Container) error {
		_, rec, found, err := c.IndexGet(index, value)
		if err != nil {
			return err
		}
		if found {
			result = rec.Project(fields)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SelectAllByIndex resolves an ordered list of index queries; the
// result order matches the query order. A failing entry degrades to a
// nil slot instead of failing the whole call, since partial results are
// more useful for batch reads.
func (db *DB) SelectAllByIndex(ctx context.Context, container string, queries []IndexQuery) ([]Record, error) {
	if isBlankString(container) {
		return nil, invalidArgf("container", "container name must be a non-empty string")
	}
	results := make([]Record, len(queries))
	err := db.withRead(ctx, container, func(c Container) error {
		for i, q := range queries {
			_, rec, found, err := c.IndexGet(q.Index, q.Value)
			if err != nil {
				db.logger.Warn("batch select entry degraded", "db", db.name,
					"container", container, "index", q.Index, "error", err)
				continue
			}
			if found {
				results[i] = rec.Project(q.Fields)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SelectAll returns every record in the container in key order. With a
// non-empty fields list, each record is projected to the requested
// subset and records holding none of the requested fields are dropped.
func (db *DB) SelectAll(ctx context.Context, container string, fields []string) ([]Record, error) {
	if isBlankString(container) {
		return nil, invalidArgf("container", "container name must be a non-empty string")
	}
	var results []Record
	err := db.withRead(ctx, container, func(c Container) error {
		cur, err := c.Cursor()
		if err != nil {
			return err
		}
		for cur.Next() {
			rec, err := cur.Record()
			if err != nil {
				return err
			}
			if projected := rec.Project(fields); projected != nil {
				results = append(results, projected)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateByIndex scans every record with a forward cursor and updates
// those whose index field strictly equals currentValue: the field is
// overwritten with newValue when replaceIndexedField is true, and each
// entry of otherUpdates applies only to fields already present on the
// record. All matches are updated; this is a full O(n) scan rather
// than an indexed point lookup, because the matched field may be
// non-unique.
//
// A single scan pass observes each record's pre-scan value for
// matching, applied once per record; rewritten records are not
// re-matched even if newValue also equals currentValue.
//
// Returns the number of records updated.
func (db *DB) UpdateByIndex(ctx context.Context, container, index string, currentValue, newValue any, replaceIndexedField bool, otherUpdates []FieldUpdate) (int, error) {
	if isBlankString(container) {
		return 0, invalidArgf("container", "container name must be a non-empty string")
	}
	if isBlankString(index) {
		return 0, invalidArgf("index", "index name must be a non-empty string")
	}
	for i, upd := range otherUpdates {
		if isBlankString(upd.Name) {
			return 0, invalidArgf("otherUpdates", "entry %d has an empty field name", i)
		}
	}
	var updated int
	err := db.withWrite(ctx, container, func(c Container) error {
		cur, err := c.Cursor()
		if err != nil {
			return err
		}
		type match struct {
			key uint64
			rec Record
		}
		var matches []match
		for cur.Next() {
			rec, err := cur.Record()
			if err != nil {
				return err
			}
			if v, ok := rec[index]; ok && valuesEqual(v, currentValue) {
				matches = append(matches, match{cur.Key(), rec})
			}
		}
		for _, m := range matches {
			if replaceIndexedField {
				m.rec[index] = newValue
			}
			for _, upd := range otherUpdates {
				if _, ok := m.rec[upd.Name]; ok {
					m.rec[upd.Name] = upd.Value
				}
			}
			if err := c.Put(m.key, m.rec); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// DeleteByIndex deletes records whose indexed field equals value.
// Fails with ErrNoSuchIndex if the index is undeclared. When deleteAll
// is false, at most one record is deleted: the first encountered in
// key-range order. Returns the number of records deleted.
func (db *DB) DeleteByIndex(ctx context.Context, container, index string, value any, deleteAll bool) (int, error) {
	if isBlankString(container) {
		return 0, invalidArgf("container", "container name must be a non-empty string")
	}
	if isBlankString(index) {
		return 0, invalidArgf("index", "index name must be a non-empty string")
	}
	var deleted int
	err := db.withWrite(ctx, container, func(c Container) error {
		keys, err := c.IndexGetAll(index, value)
		if err != nil {
			return err
		}
		if !deleteAll && len(keys) > 1 {
			keys = keys[:1]
		}
		for _, key := range keys {
			if err := c.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// DeleteAll clears every record in the container, leaving the
// container and its indexes declared.
func (db *DB) DeleteAll(ctx context.Context, container string) error {
	if isBlankString(container) {
		return invalidArgf("container", "container name must be a non-empty string")
	}
	return db.withWrite(ctx, container, func(c Container) error {
		return c.Clear()
	})
}

// Clean is an alias of DeleteAll.
func (db *DB) Clean(ctx context.Context, container string) error {
	return db.DeleteAll(ctx, container)
}

// IndexExists reports whether an index is declared on the container.
func (db *DB) IndexExists(ctx context.Context, container, index string) (bool, error) {
	if isBlankString(container) {
		return false, invalidArgf("container", "container name must be a non-empty string")
	}
	if isBlankString(index) {
		return false, invalidArgf("index", "index name must be a non-empty string")
	}
	var exists bool
	err := db.withRead(ctx, container, func(c Container) error {
		var err error
		exists, err = c.HasIndex(index)
		return err
	})
	return exists, err
}

// IndexesExist reports, in order, whether each named index is declared
// on the container.
func (db *DB) IndexesExist(ctx context.Context, container string, indexes []string) ([]bool, error) {
	if isBlankString(container) {
		return nil, invalidArgf("container", "container name must be a non-empty string")
	}
	results := make([]bool, len(indexes))
	err := db.withRead(ctx, container, func(c Container) error {
		for i, index := range indexes {
			ok, err := c.HasIndex(index)
			if err != nil {
				return err
			}
			results[i] = ok
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// withRead runs fn against a container inside a fresh connection and a
// read-only transaction.
func (db *DB) withRead(ctx context.Context, container string, fn func(Container) error) error {
	return db.conns.open(ctx, db.name, 0, nil, func(conn Conn) error {
		tx, err := conn.Begin(false)
		if err != nil {
			return wrapEngineErr("read", db.name, err)
		}
		defer tx.Abort()
		c, err := tx.Container(container)
		if err != nil {
			return wrapEngineErr("read", db.name, err)
		}
		return wrapEngineErr("read", db.name, fn(c))
	})
}

// withWrite runs fn against a container inside a fresh connection and
// a read-write transaction, committing on success and aborting on any
// failure.
func (db *DB) withWrite(ctx context.Context, container string, fn func(Container) error) error {
	return db.conns.open(ctx, db.name, 0, nil, func(conn Conn) error {
		tx, err := conn.Begin(true)
		if err != nil {
			return wrapEngineErr("write", db.name, err)
		}
		defer tx.Abort()
		c, err := tx.Container(container)
		if err != nil {
			return wrapEngineErr("write", db.name, err)
		}
		if err := fn(c); err != nil {
			return wrapEngineErr("write", db.name, err)
		}
		return wrapEngineErr("write", db.name, tx.Commit())
	})
}
