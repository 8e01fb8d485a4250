package carton

// Engine represents a host storage engine backend (Bolt, in-memory, ...).
// The client layer consumes only these primitives; durability, on-disk
// format and crash recovery are owned by the engine.
type Engine interface {
	// Open opens a database at its current version, creating an empty
	// version-0 database if it does not exist.
	Open(name string) (Conn, error)

	// OpenVersion opens a database at the given version, which must be
	// greater than the current one. The upgrade callback runs exactly
	// once inside an exclusive writable transaction; only structural
	// edits made through it are persisted. If the callback returns an
	// error the whole transaction, including the version bump, is
	// rolled back and the open fails.
	//
	// Returns ErrConnectionBlocked if another connection is open.
	OpenVersion(name string, version uint64, upgrade func(UpgradeTxn) error) (Conn, error)

	// Exists reports whether the named database exists.
	Exists(name string) (bool, error)

	// Delete removes a database entirely. Returns ErrConnectionBlocked
	// while connections to it are open. Deleting a missing database is
	// a no-op.
	Delete(name string) error

	// Close releases the engine.
	Close() error
}

// Conn is an open connection to a single database.
type Conn interface {
	// Name returns the database name.
	Name() string

	// Version returns the database version at open time. A database
	// that has never seen a structural change reports 0.
	Version() uint64

	// ContainerNames returns the names of all declared containers.
	ContainerNames() []string

	// Begin starts a transaction. Writable transactions may mutate
	// records but never the schema; schema edits require an upgrade
	// transaction obtained through Engine.OpenVersion.
	Begin(writable bool) (Txn, error)

	// Close releases the connection. Safe to call multiple times.
	Close() error
}

// Txn is an ordinary (non-upgrade) transaction.
type Txn interface {
	// Container returns a handle to a declared container.
	// Returns ErrNoSuchContainer if it is not declared.
	Container(name string) (Container, error)

	// Commit commits the transaction.
	Commit() error

	// Abort rolls the transaction back. Safe to call after Commit, in
	// which case it is a no-op.
	Abort() error
}

// UpgradeTxn is the exclusive transaction type in which structural
// changes must occur.
type UpgradeTxn interface {
	Txn

	// CreateContainer declares a container with synthetic
	// auto-incrementing keys and no indexes.
	CreateContainer(name string) (Container, error)

	// DeleteContainer removes a container and all its records and
	// indexes. Returns ErrNoSuchContainer if it is not declared.
	DeleteContainer(name string) error

	// HasContainer reports whether a container is declared.
	HasContainer(name string) bool
}

// IndexInfo describes a declared index. The index name doubles as the
// name of the indexed record field.
type IndexInfo struct {
	Name   string `msgpack:"n"`
	Unique bool   `msgpack:"u"`
}

// Container is a handle to one container within a transaction.
type Container interface {
	Name() string

	// Add stores a new record under a fresh synthetic key and returns
	// that key. Returns ErrConstraintViolation if a unique index
	// rejects one of the record's field values.
	Add(rec Record) (uint64, error)

	// Put overwrites the record stored under key, maintaining indexes.
	Put(key uint64, rec Record) error

	// Get retrieves a record by key. Returns nil if not found.
	Get(key uint64) (Record, error)

	// Delete removes a record by key. Missing keys are a no-op.
	Delete(key uint64) error

	// Clear removes every record, leaving the container and its
	// indexes declared.
	Clear() error

	// Count returns the number of stored records.
	Count() (int, error)

	// Cursor iterates records in ascending key order.
	Cursor() (Cursor, error)

	// CreateIndex declares an index over the field of the same name and
	// backfills it from existing records. Creating an existing index
	// is an error.
	CreateIndex(name string, unique bool) error

	// DeleteIndex removes an index. Returns ErrNoSuchIndex if it is
	// not declared.
	DeleteIndex(name string) error

	// Indexes lists declared indexes.
	Indexes() ([]IndexInfo, error)

	// HasIndex reports whether an index is declared.
	HasIndex(name string) (bool, error)

	// IndexGet returns the key and record of the first record whose
	// indexed field equals value, in key-range order in the index.
	// Returns found=false if none match.
	// Returns ErrNoSuchIndex if the index is not declared.
	IndexGet(index string, value any) (key uint64, rec Record, found bool, err error)

	// IndexGetAll returns the keys of every record whose indexed field
	// equals value, in key-range order in the index.
	// Returns ErrNoSuchIndex if the index is not declared.
	IndexGetAll(index string, value any) ([]uint64, error)
}

// Cursor iterates a container's records in ascending key order.
type Cursor interface {
	// Next advances to the next record, returning false when done.
	Next() bool

	// Key returns the current record's key.
	Key() uint64

	// Record returns the current record.
	Record() (Record, error)
}
