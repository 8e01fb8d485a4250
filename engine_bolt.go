package carton

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

const boltFileExt = ".cdb"

var (
	metaBucketName  = []byte("!meta")
	versionKey      = []byte("version")
	dataBucketName  = []byte("!data")
	indexesMetaKey  = []byte("!indexes")
	indexBucketPref = "!idx:"
)

// BoltOptions tunes the underlying bbolt databases.
type BoltOptions struct {
	// IsTesting trades durability for speed (no fsync, small mmap).
	IsTesting bool
	// MmapSize overrides the initial mmap size when non-zero.
	MmapSize int
	// Timeout bounds the wait for the file lock. Zero means 10s.
	Timeout time.Duration
}

// BoltEngine stores each database in its own bbolt file under a root
// directory. Connection tracking is in-process: a version upgrade or a
// database delete is blocked while any live Conn to the same database
// exists.
type BoltEngine struct {
	dir string
	opt BoltOptions

	mu     sync.Mutex
	open   map[string]*boltShared
	closed bool
}

type boltShared struct {
	bdb  *bbolt.DB
	refs int
}

// OpenBoltEngine opens (creating if needed) a directory of databases.
func OpenBoltEngine(dir string, opt BoltOptions) (*BoltEngine, error) {
	if isBlankString(dir) {
		return nil, ErrUnsupportedEnvironment
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("carton: %w", err)
	}
	return &BoltEngine{
		dir:  dir,
		opt:  opt,
		open: make(map[string]*boltShared),
	}, nil
}

func (e *BoltEngine) path(name string) string {
	return filepath.Join(e.dir, name+boltFileExt)
}

func (e *BoltEngine) boltOptions() *bbolt.Options {
	bopt := new(bbolt.Options)
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = e.opt.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	if e.opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if e.opt.MmapSize != 0 {
		bopt.InitialMmapSize = e.opt.MmapSize
	}
	return bopt
}

func (e *BoltEngine) Open(name string) (Conn, error) {
	if err := validDatabaseName(name); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("engine closed")
	}

	sh := e.open[name]
	if sh == nil {
		bdb, err := bbolt.Open(e.path(name), 0o666, e.boltOptions())
		if err != nil {
			return nil, fmt.Errorf("carton: %w", err)
		}
		sh = &boltShared{bdb: bdb}
		e.open[name] = sh
	}
	sh.refs++

	version, err := readBoltVersion(sh.bdb)
	if err != nil {
		e.releaseLocked(name)
		return nil, err
	}
	return &boltConn{eng: e, name: name, sh: sh, version: version}, nil
}

func (e *BoltEngine) OpenVersion(name string, version uint64, upgrade func(UpgradeTxn) error) (Conn, error) {
	if err := validDatabaseName(name); err != nil {
		return nil, err
	}
	if upgrade == nil {
		return nil, fmt.Errorf("nil upgrade callback")
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine closed")
	}
	if e.open[name] != nil {
		e.mu.Unlock()
		return nil, ErrConnectionBlocked
	}
	bdb, err := bbolt.Open(e.path(name), 0o666, e.boltOptions())
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("carton: %w", err)
	}
	sh := &boltShared{bdb: bdb, refs: 1}
	e.open[name] = sh
	e.mu.Unlock()

	fail := func(err error) (Conn, error) {
		e.mu.Lock()
		e.releaseLocked(name)
		e.mu.Unlock()
		return nil, err
	}

	current, err := readBoltVersion(bdb)
	if err != nil {
		return fail(err)
	}
	if version <= current {
		return fail(fmt.Errorf("requested version %d is not greater than current version %d", version, current))
	}

	btx, err := bdb.Begin(true)
	if err != nil {
		return fail(fmt.Errorf("carton: %w", err))
	}
	utx := &boltUpgradeTxn{boltTxn: boltTxn{btx: btx}}
	if err := upgrade(utx); err != nil {
		_ = utx.Abort()
		return fail(err)
	}
	if err := writeBoltVersion(btx, version); err != nil {
		_ = utx.Abort()
		return fail(err)
	}
	if err := btx.Commit(); err != nil {
		return fail(fmt.Errorf("carton: commit upgrade: %w", err))
	}
	return &boltConn{eng: e, name: name, sh: sh, version: version}, nil
}

func (e *BoltEngine) Exists(name string) (bool, error) {
	if err := validDatabaseName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(e.path(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("carton: %w", err)
}

func (e *BoltEngine) Delete(name string) error {
	if err := validDatabaseName(name); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open[name] != nil {
		return ErrConnectionBlocked
	}
	err := os.Remove(e.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("carton: %w", err)
	}
	return nil
}

func (e *BoltEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	var firstErr error
	for name, sh := range e.open {
		if err := sh.bdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.open, name)
	}
	return firstErr
}

// releaseLocked drops one reference; e.mu must be held.
func (e *BoltEngine) releaseLocked(name string) {
	sh := e.open[name]
	if sh == nil {
		return
	}
	sh.refs--
	if sh.refs <= 0 {
		_ = sh.bdb.Close()
		delete(e.open, name)
	}
}

func validDatabaseName(name string) error {
	if isBlankString(name) || name != filepath.Base(name) {
		return fmt.Errorf("invalid database name %q", name)
	}
	return nil
}

func readBoltVersion(bdb *bbolt.DB) (uint64, error) {
	var version uint64
	err := bdb.View(func(btx *bbolt.Tx) error {
		meta := btx.Bucket(metaBucketName)
		if meta == nil {
			return nil
		}
		if raw := meta.Get(versionKey); len(raw) == 8 {
			version = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("carton: %w", err)
	}
	return version, nil
}

func writeBoltVersion(btx *bbolt.Tx, version uint64) error {
	meta, err := btx.CreateBucketIfNotExists(metaBucketName)
	if err != nil {
		return err
	}
	return meta.Put(versionKey, encodeRecordKey(version))
}

type boltConn struct {
	eng     *BoltEngine
	name    string
	sh      *boltShared
	version uint64

	mu     sync.Mutex
	closed bool
}

func (c *boltConn) Name() string    { return c.name }
func (c *boltConn) Version() uint64 { return c.version }

func (c *boltConn) ContainerNames() []string {
	var names []string
	_ = c.sh.bdb.View(func(btx *bbolt.Tx) error {
		return btx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if !bytes.Equal(name, metaBucketName) {
				names = append(names, string(name))
			}
			return nil
		})
	})
	sort.Strings(names)
	return names
}

func (c *boltConn) Begin(writable bool) (Txn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("connection closed")
	}
	c.mu.Unlock()
	btx, err := c.sh.bdb.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("carton: %w", err)
	}
	return &boltTxn{btx: btx}, nil
}

func (c *boltConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.eng.mu.Lock()
	c.eng.releaseLocked(c.name)
	c.eng.mu.Unlock()
	return nil
}

type boltTxn struct {
	btx *bbolt.Tx
}

func (tx *boltTxn) Container(name string) (Container, error) {
	if bytes.Equal([]byte(name), metaBucketName) {
		return nil, ErrNoSuchContainer
	}
	b := tx.btx.Bucket([]byte(name))
	if b == nil {
		return nil, ErrNoSuchContainer
	}
	return &boltContainer{name: name, b: b}, nil
}

func (tx *boltTxn) Commit() error {
	return tx.btx.Commit()
}

func (tx *boltTxn) Abort() error {
	err := tx.btx.Rollback()
	if errors.Is(err, bbolt.ErrTxClosed) {
		// Commit already ran; rollback on the way out is the normal flow.
		return nil
	}
	return err
}

type boltUpgradeTxn struct {
	boltTxn
}

func (tx *boltUpgradeTxn) CreateContainer(name string) (Container, error) {
	if isBlankString(name) || name[0] == '!' {
		return nil, fmt.Errorf("invalid container name %q", name)
	}
	root, err := tx.btx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, err
	}
	if _, err := root.CreateBucketIfNotExists(dataBucketName); err != nil {
		return nil, err
	}
	return &boltContainer{name: name, b: root}, nil
}

func (tx *boltUpgradeTxn) DeleteContainer(name string) error {
	if isBlankString(name) || name[0] == '!' {
		return ErrNoSuchContainer
	}
	err := tx.btx.DeleteBucket([]byte(name))
	if errors.Is(err, bbolt.ErrBucketNotFound) {
		return ErrNoSuchContainer
	}
	return err
}

func (tx *boltUpgradeTxn) HasContainer(name string) bool {
	if isBlankString(name) || name[0] == '!' {
		return false
	}
	return tx.btx.Bucket([]byte(name)) != nil
}

type boltContainer struct {
	name string
	b    *bbolt.Bucket

	indexes map[string]bool // name -> unique, loaded lazily
}

func (c *boltContainer) Name() string { return c.name }

func (c *boltContainer) data() *bbolt.Bucket {
	return c.b.Bucket(dataBucketName)
}

func (c *boltContainer) indexBucket(name string) *bbolt.Bucket {
	return c.b.Bucket([]byte(indexBucketPref + name))
}

func (c *boltContainer) loadIndexes() (map[string]bool, error) {
	if c.indexes != nil {
		return c.indexes, nil
	}
	c.indexes = make(map[string]bool)
	if raw := c.b.Get(indexesMetaKey); raw != nil {
		if err := msgpack.Unmarshal(raw, &c.indexes); err != nil {
			return nil, fmt.Errorf("decoding index metadata of %q: %w", c.name, err)
		}
	}
	return c.indexes, nil
}

func (c *boltContainer) saveIndexes() error {
	raw, err := msgpack.Marshal(c.indexes)
	if err != nil {
		return err
	}
	return c.b.Put(indexesMetaKey, raw)
}

func (c *boltContainer) Add(rec Record) (uint64, error) {
	data := c.data()
	key, err := data.NextSequence()
	if err != nil {
		return 0, err
	}
	if err := c.writeIndexEntries(key, rec); err != nil {
		return 0, err
	}
	raw, err := encodeRecord(rec)
	if err != nil {
		return 0, err
	}
	if err := data.Put(encodeRecordKey(key), raw); err != nil {
		return 0, err
	}
	return key, nil
}

func (c *boltContainer) Put(key uint64, rec Record) error {
	data := c.data()
	keyRaw := encodeRecordKey(key)
	if oldRaw := data.Get(keyRaw); oldRaw != nil {
		old, err := decodeRecord(oldRaw)
		if err != nil {
			return fmt.Errorf("decoding record %d of %q: %w", key, c.name, err)
		}
		if err := c.removeIndexEntries(key, old); err != nil {
			return err
		}
	}
	if err := c.writeIndexEntries(key, rec); err != nil {
		return err
	}
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return data.Put(keyRaw, raw)
}

func (c *boltContainer) Get(key uint64) (Record, error) {
	raw := c.data().Get(encodeRecordKey(key))
	if raw == nil {
		return nil, nil
	}
	return decodeRecord(raw)
}

func (c *boltContainer) Delete(key uint64) error {
	data := c.data()
	keyRaw := encodeRecordKey(key)
	raw := data.Get(keyRaw)
	if raw == nil {
		return nil
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return fmt.Errorf("decoding record %d of %q: %w", key, c.name, err)
	}
	if err := c.removeIndexEntries(key, rec); err != nil {
		return err
	}
	return data.Delete(keyRaw)
}

func (c *boltContainer) Clear() error {
	seq := c.data().Sequence()
	if err := c.b.DeleteBucket(dataBucketName); err != nil {
		return err
	}
	data, err := c.b.CreateBucket(dataBucketName)
	if err != nil {
		return err
	}
	// Keys keep growing across a clear; they are never reissued.
	if err := data.SetSequence(seq); err != nil {
		return err
	}
	indexes, err := c.loadIndexes()
	if err != nil {
		return err
	}
	for name := range indexes {
		bname := []byte(indexBucketPref + name)
		if err := c.b.DeleteBucket(bname); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		if _, err := c.b.CreateBucket(bname); err != nil {
			return err
		}
	}
	return nil
}

func (c *boltContainer) Count() (int, error) {
	return c.data().Stats().KeyN, nil
}

func (c *boltContainer) Cursor() (Cursor, error) {
	return &boltRecCursor{c: c.data().Cursor()}, nil
}

func (c *boltContainer) CreateIndex(name string, unique bool) error {
	indexes, err := c.loadIndexes()
	if err != nil {
		return err
	}
	if _, ok := indexes[name]; ok {
		return fmt.Errorf("index %q already exists on %q", name, c.name)
	}
	if _, err := c.b.CreateBucket([]byte(indexBucketPref + name)); err != nil {
		return err
	}
	indexes[name] = unique
	if err := c.saveIndexes(); err != nil {
		return err
	}
	// Backfill from existing records.
	cur := c.data().Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		rec, err := decodeRecord(v)
		if err != nil {
			return fmt.Errorf("decoding record %x of %q: %w", k, c.name, err)
		}
		value, ok := rec[name]
		if !ok {
			continue
		}
		if err := c.indexAdd(name, unique, value, decodeRecordKey(k)); err != nil {
			return err
		}
	}
	return nil
}

func (c *boltContainer) DeleteIndex(name string) error {
	indexes, err := c.loadIndexes()
	if err != nil {
		return err
	}
	if _, ok := indexes[name]; !ok {
		return ErrNoSuchIndex
	}
	if err := c.b.DeleteBucket([]byte(indexBucketPref + name)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
		return err
	}
	delete(indexes, name)
	return c.saveIndexes()
}

func (c *boltContainer) Indexes() ([]IndexInfo, error) {
	indexes, err := c.loadIndexes()
	if err != nil {
		return nil, err
	}
	infos := make([]IndexInfo, 0, len(indexes))
	for name, unique := range indexes {
		infos = append(infos, IndexInfo{Name: name, Unique: unique})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (c *boltContainer) HasIndex(name string) (bool, error) {
	indexes, err := c.loadIndexes()
	if err != nil {
		return false, err
	}
	_, ok := indexes[name]
	return ok, nil
}

func (c *boltContainer) IndexGet(index string, value any) (uint64, Record, bool, error) {
	keys, err := c.indexLookup(index, value, true)
	if err != nil || len(keys) == 0 {
		return 0, nil, false, err
	}
	rec, err := c.Get(keys[0])
	if err != nil {
		return 0, nil, false, err
	}
	return keys[0], rec, rec != nil, nil
}

func (c *boltContainer) IndexGetAll(index string, value any) ([]uint64, error) {
	return c.indexLookup(index, value, false)
}

func (c *boltContainer) indexLookup(index string, value any, firstOnly bool) ([]uint64, error) {
	indexes, err := c.loadIndexes()
	if err != nil {
		return nil, err
	}
	unique, ok := indexes[index]
	if !ok {
		return nil, ErrNoSuchIndex
	}
	ib := c.indexBucket(index)
	if ib == nil {
		return nil, nil
	}
	valueKey, err := encodeIndexValue(value)
	if err != nil {
		return nil, err
	}
	if unique {
		raw := ib.Get(valueKey)
		if raw == nil {
			return nil, nil
		}
		return []uint64{decodeRecordKey(raw)}, nil
	}
	var keys []uint64
	cur := ib.Cursor()
	for k, _ := cur.Seek(valueKey); k != nil && bytes.HasPrefix(k, valueKey); k, _ = cur.Next() {
		keys = append(keys, decodeRecordKey(k[len(valueKey):]))
		if firstOnly {
			break
		}
	}
	return keys, nil
}

func (c *boltContainer) writeIndexEntries(key uint64, rec Record) error {
	indexes, err := c.loadIndexes()
	if err != nil {
		return err
	}
	for name, unique := range indexes {
		value, ok := rec[name]
		if !ok {
			continue
		}
		if err := c.indexAdd(name, unique, value, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *boltContainer) removeIndexEntries(key uint64, rec Record) error {
	indexes, err := c.loadIndexes()
	if err != nil {
		return err
	}
	for name, unique := range indexes {
		value, ok := rec[name]
		if !ok {
			continue
		}
		ib := c.indexBucket(name)
		if ib == nil {
			continue
		}
		if unique {
			valueKey, err := encodeIndexValue(value)
			if err != nil {
				return err
			}
			if raw := ib.Get(valueKey); raw != nil && decodeRecordKey(raw) == key {
				if err := ib.Delete(valueKey); err != nil {
					return err
				}
			}
		} else {
			entry, err := encodeIndexEntry(value, key)
			if err != nil {
				return err
			}
			if err := ib.Delete(entry); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *boltContainer) indexAdd(name string, unique bool, value any, key uint64) error {
	ib := c.indexBucket(name)
	if ib == nil {
		var err error
		ib, err = c.b.CreateBucket([]byte(indexBucketPref + name))
		if err != nil {
			return err
		}
	}
	if unique {
		valueKey, err := encodeIndexValue(value)
		if err != nil {
			return err
		}
		if existing := ib.Get(valueKey); existing != nil && decodeRecordKey(existing) != key {
			return ErrConstraintViolation
		}
		return ib.Put(valueKey, encodeRecordKey(key))
	}
	entry, err := encodeIndexEntry(value, key)
	if err != nil {
		return err
	}
	return ib.Put(entry, nil)
}

type boltRecCursor struct {
	c       *bbolt.Cursor
	k, v    []byte
	started bool
}

func (cur *boltRecCursor) Next() bool {
	if !cur.started {
		cur.started = true
		cur.k, cur.v = cur.c.First()
	} else {
		cur.k, cur.v = cur.c.Next()
	}
	return cur.k != nil
}

func (cur *boltRecCursor) Key() uint64 {
	return decodeRecordKey(cur.k)
}

func (cur *boltRecCursor) Record() (Record, error) {
	return decodeRecord(cur.v)
}
