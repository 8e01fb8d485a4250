package carton

import (
	"fmt"
	"sort"
	"sync"
)

// MemEngine is a transient in-memory Engine implementation intended for
// tests. Every transaction works on a snapshot of the whole database;
// committing swaps the snapshot in, so aborted transactions leave no
// trace (simplicity over efficiency).
type MemEngine struct {
	mu     sync.Mutex
	cond   *sync.Cond
	dbs    map[string]*memDatabase
	refs   map[string]int
	writer map[string]bool
	closed bool
}

type memDatabase struct {
	version    uint64
	containers map[string]*memContainer
}

type memContainer struct {
	seq     uint64
	records map[uint64][]byte // encoded records, decoded on read
	indexes map[string]bool   // name -> unique
}

// NewMemEngine returns an empty in-memory engine.
func NewMemEngine() *MemEngine {
	e := &MemEngine{
		dbs:    make(map[string]*memDatabase),
		refs:   make(map[string]int),
		writer: make(map[string]bool),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (db *memDatabase) clone() *memDatabase {
	out := &memDatabase{
		version:    db.version,
		containers: make(map[string]*memContainer, len(db.containers)),
	}
	for name, c := range db.containers {
		cc := &memContainer{
			seq:     c.seq,
			records: make(map[uint64][]byte, len(c.records)),
			indexes: make(map[string]bool, len(c.indexes)),
		}
		for k, v := range c.records {
			cc.records[k] = v
		}
		for k, v := range c.indexes {
			cc.indexes[k] = v
		}
		out.containers[name] = cc
	}
	return out
}

func (e *MemEngine) Open(name string) (Conn, error) {
	if isBlankString(name) {
		return nil, fmt.Errorf("invalid database name %q", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("engine closed")
	}
	db := e.dbs[name]
	if db == nil {
		db = &memDatabase{containers: make(map[string]*memContainer)}
		e.dbs[name] = db
	}
	e.refs[name]++
	return &memConn{eng: e, name: name, version: db.version}, nil
}

func (e *MemEngine) OpenVersion(name string, version uint64, upgrade func(UpgradeTxn) error) (Conn, error) {
	if isBlankString(name) {
		return nil, fmt.Errorf("invalid database name %q", name)
	}
	if upgrade == nil {
		return nil, fmt.Errorf("nil upgrade callback")
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine closed")
	}
	if e.refs[name] > 0 {
		e.mu.Unlock()
		return nil, ErrConnectionBlocked
	}
	db := e.dbs[name]
	if db == nil {
		db = &memDatabase{containers: make(map[string]*memContainer)}
		e.dbs[name] = db
	}
	if version <= db.version {
		e.mu.Unlock()
		return nil, fmt.Errorf("requested version %d is not greater than current version %d", version, db.version)
	}
	e.refs[name]++
	snap := db.clone()
	e.mu.Unlock()

	utx := &memUpgradeTxn{memTxn: memTxn{db: snap, writable: true}}
	if err := upgrade(utx); err != nil {
		e.mu.Lock()
		e.refs[name]--
		e.mu.Unlock()
		return nil, err
	}
	snap.version = version

	e.mu.Lock()
	e.dbs[name] = snap
	e.mu.Unlock()
	return &memConn{eng: e, name: name, version: version}, nil
}

func (e *MemEngine) Exists(name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.dbs[name]
	return ok, nil
}

func (e *MemEngine) Delete(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refs[name] > 0 {
		return ErrConnectionBlocked
	}
	delete(e.dbs, name)
	return nil
}

func (e *MemEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.dbs = nil
	e.cond.Broadcast()
	return nil
}

type memConn struct {
	eng     *MemEngine
	name    string
	version uint64

	mu     sync.Mutex
	closed bool
}

func (c *memConn) Name() string    { return c.name }
func (c *memConn) Version() uint64 { return c.version }

func (c *memConn) ContainerNames() []string {
	c.eng.mu.Lock()
	defer c.eng.mu.Unlock()
	db := c.eng.dbs[c.name]
	if db == nil {
		return nil
	}
	names := make([]string, 0, len(db.containers))
	for name := range db.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *memConn) Begin(writable bool) (Txn, error) {
	e := c.eng
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("engine closed")
	}
	if writable {
		for e.writer[c.name] && !e.closed {
			e.cond.Wait()
		}
		if e.closed {
			return nil, fmt.Errorf("engine closed")
		}
		e.writer[c.name] = true
	}
	db := e.dbs[c.name]
	if db == nil {
		return nil, fmt.Errorf("database %q deleted", c.name)
	}
	return &memTxn{eng: e, name: c.name, db: db.clone(), writable: writable}, nil
}

func (c *memConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.eng.mu.Lock()
	c.eng.refs[c.name]--
	c.eng.mu.Unlock()
	return nil
}

type memTxn struct {
	eng      *MemEngine
	name     string
	db       *memDatabase
	writable bool
	done     bool
}

func (tx *memTxn) Container(name string) (Container, error) {
	c := tx.db.containers[name]
	if c == nil {
		return nil, ErrNoSuchContainer
	}
	return &memContainerHandle{tx: tx, name: name, c: c}, nil
}

func (tx *memTxn) finish() {
	if tx.writable && tx.eng != nil {
		tx.eng.writer[tx.name] = false
		tx.eng.cond.Broadcast()
	}
	tx.done = true
}

func (tx *memTxn) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	if tx.eng != nil {
		tx.eng.mu.Lock()
		if tx.writable {
			tx.eng.dbs[tx.name] = tx.db
		}
		tx.finish()
		tx.eng.mu.Unlock()
		return nil
	}
	tx.done = true
	return nil
}

func (tx *memTxn) Abort() error {
	if tx.done {
		return nil
	}
	if tx.eng != nil {
		tx.eng.mu.Lock()
		tx.finish()
		tx.eng.mu.Unlock()
		return nil
	}
	tx.done = true
	return nil
}

type memUpgradeTxn struct {
	memTxn
}

func (tx *memUpgradeTxn) CreateContainer(name string) (Container, error) {
	if isBlankString(name) {
		return nil, fmt.Errorf("invalid container name %q", name)
	}
	c := tx.db.containers[name]
	if c == nil {
		c = &memContainer{
			records: make(map[uint64][]byte),
			indexes: make(map[string]bool),
		}
		tx.db.containers[name] = c
	}
	return &memContainerHandle{tx: &tx.memTxn, name: name, c: c}, nil
}

func (tx *memUpgradeTxn) DeleteContainer(name string) error {
	if tx.db.containers[name] == nil {
		return ErrNoSuchContainer
	}
	delete(tx.db.containers, name)
	return nil
}

func (tx *memUpgradeTxn) HasContainer(name string) bool {
	return tx.db.containers[name] != nil
}

type memContainerHandle struct {
	tx   *memTxn
	name string
	c    *memContainer
}

func (h *memContainerHandle) Name() string { return h.name }

func (h *memContainerHandle) requireWritable() error {
	if !h.tx.writable {
		return fmt.Errorf("transaction not writable")
	}
	return nil
}

func (h *memContainerHandle) sortedKeys() []uint64 {
	keys := make([]uint64, 0, len(h.c.records))
	for k := range h.c.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (h *memContainerHandle) checkUnique(key uint64, rec Record) error {
	for index, unique := range h.c.indexes {
		if !unique {
			continue
		}
		value, ok := rec[index]
		if !ok {
			continue
		}
		for k, raw := range h.c.records {
			if k == key {
				continue
			}
			other, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			if ov, ok := other[index]; ok && valuesEqual(ov, value) {
				return ErrConstraintViolation
			}
		}
	}
	return nil
}

func (h *memContainerHandle) Add(rec Record) (uint64, error) {
	if err := h.requireWritable(); err != nil {
		return 0, err
	}
	if err := h.checkUnique(0, rec); err != nil {
		return 0, err
	}
	raw, err := encodeRecord(rec)
	if err != nil {
		return 0, err
	}
	h.c.seq++
	h.c.records[h.c.seq] = raw
	return h.c.seq, nil
}

func (h *memContainerHandle) Put(key uint64, rec Record) error {
	if err := h.requireWritable(); err != nil {
		return err
	}
	if err := h.checkUnique(key, rec); err != nil {
		return err
	}
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	h.c.records[key] = raw
	return nil
}

func (h *memContainerHandle) Get(key uint64) (Record, error) {
	raw, ok := h.c.records[key]
	if !ok {
		return nil, nil
	}
	return decodeRecord(raw)
}

func (h *memContainerHandle) Delete(key uint64) error {
	if err := h.requireWritable(); err != nil {
		return err
	}
	delete(h.c.records, key)
	return nil
}

func (h *memContainerHandle) Clear() error {
	if err := h.requireWritable(); err != nil {
		return err
	}
	h.c.records = make(map[uint64][]byte)
	return nil
}

func (h *memContainerHandle) Count() (int, error) {
	return len(h.c.records), nil
}

func (h *memContainerHandle) Cursor() (Cursor, error) {
	return &memCursor{h: h, keys: h.sortedKeys(), pos: -1}, nil
}

func (h *memContainerHandle) CreateIndex(name string, unique bool) error {
	if err := h.requireWritable(); err != nil {
		return err
	}
	if _, ok := h.c.indexes[name]; ok {
		return fmt.Errorf("index %q already exists on %q", name, h.name)
	}
	h.c.indexes[name] = unique
	if unique {
		// Backfill check: existing duplicates reject the index.
		seen := make([]any, 0)
		for _, k := range h.sortedKeys() {
			rec, err := decodeRecord(h.c.records[k])
			if err != nil {
				return err
			}
			value, ok := rec[name]
			if !ok {
				continue
			}
			for _, prev := range seen {
				if valuesEqual(prev, value) {
					delete(h.c.indexes, name)
					return ErrConstraintViolation
				}
			}
			seen = append(seen, value)
		}
	}
	return nil
}

func (h *memContainerHandle) DeleteIndex(name string) error {
	if err := h.requireWritable(); err != nil {
		return err
	}
	if _, ok := h.c.indexes[name]; !ok {
		return ErrNoSuchIndex
	}
	delete(h.c.indexes, name)
	return nil
}

func (h *memContainerHandle) Indexes() ([]IndexInfo, error) {
	infos := make([]IndexInfo, 0, len(h.c.indexes))
	for name, unique := range h.c.indexes {
		infos = append(infos, IndexInfo{Name: name, Unique: unique})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (h *memContainerHandle) HasIndex(name string) (bool, error) {
	_, ok := h.c.indexes[name]
	return ok, nil
}

func (h *memContainerHandle) IndexGet(index string, value any) (uint64, Record, bool, error) {
	keys, err := h.lookup(index, value, true)
	if err != nil || len(keys) == 0 {
		return 0, nil, false, err
	}
	rec, err := h.Get(keys[0])
	if err != nil {
		return 0, nil, false, err
	}
	return keys[0], rec, true, nil
}

func (h *memContainerHandle) IndexGetAll(index string, value any) ([]uint64, error) {
	return h.lookup(index, value, false)
}

func (h *memContainerHandle) lookup(index string, value any, firstOnly bool) ([]uint64, error) {
	if _, ok := h.c.indexes[index]; !ok {
		return nil, ErrNoSuchIndex
	}
	var keys []uint64
	for _, k := range h.sortedKeys() {
		rec, err := decodeRecord(h.c.records[k])
		if err != nil {
			return nil, err
		}
		if v, ok := rec[index]; ok && valuesEqual(v, value) {
			keys = append(keys, k)
			if firstOnly {
				break
			}
		}
	}
	return keys, nil
}

type memCursor struct {
	h    *memContainerHandle
	keys []uint64
	pos  int
}

func (cur *memCursor) Next() bool {
	cur.pos++
	return cur.pos < len(cur.keys)
}

func (cur *memCursor) Key() uint64 {
	return cur.keys[cur.pos]
}

func (cur *memCursor) Record() (Record, error) {
	return decodeRecord(cur.h.c.records[cur.keys[cur.pos]])
}
