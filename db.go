package carton

import (
	"context"
	"log/slog"
	"time"
)

// DB is a client for one named, versioned database on a host storage
// engine. It is safe for concurrent use; every operation opens its own
// connection and transaction.
type DB struct {
	name   string
	conns  *connManager
	marker *modTracker
	logger *slog.Logger
}

// Options configures a DB client.
type Options struct {
	// Logger receives debug and degradation events. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Timezone used to format the modification marker timestamp.
	// Defaults to UTC; unknown names fall back to the default.
	Timezone string

	// MarkerContainer overrides the internal container holding the
	// modification marker.
	MarkerContainer string

	// Now supplies the current time, for tests. Defaults to time.Now.
	Now func() time.Time
}

// New creates a client for the named database on the given engine. The
// database itself is created implicitly on first open.
func New(eng Engine, name string, opt Options) (*DB, error) {
	if eng == nil {
		return nil, ErrUnsupportedEnvironment
	}
	if isBlankString(name) {
		return nil, invalidArgf("name", "database name must be a non-empty string")
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	db := &DB{
		name:   name,
		conns:  &connManager{eng: eng, logger: logger},
		marker: newModTracker(logger, opt.Now),
		logger: logger,
	}
	db.marker.setContainerName(opt.MarkerContainer)
	if opt.Timezone != "" && !db.marker.setTimezone(opt.Timezone) {
		logger.Warn("unknown timezone, keeping default", "tz", opt.Timezone)
	}
	return db, nil
}

// Name returns the database name.
func (db *DB) Name() string { return db.name }

// Initialize opens the database at its current version, creating it
// implicitly if needed, and returns that version.
func (db *DB) Initialize(ctx context.Context) (uint64, error) {
	return db.currentVersion(ctx)
}

// Version returns the current database version. A database that has
// never seen a structural change reports 0.
func (db *DB) Version(ctx context.Context) (uint64, error) {
	return db.currentVersion(ctx)
}

// DeleteDatabase removes the whole database. Fails with
// ErrConnectionBlocked while another connection to it is open.
func (db *DB) DeleteDatabase(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := db.conns.eng.Delete(db.name)
	if err != nil {
		return wrapEngineErr("delete", db.name, err)
	}
	db.logger.Debug("database deleted", "db", db.name)
	return nil
}

// LastModified returns the timestamp of the last structural change, or
// ok=false if no structural change has been recorded.
func (db *DB) LastModified(ctx context.Context) (string, bool, error) {
	var ts string
	var ok bool
	err := db.conns.open(ctx, db.name, 0, nil, func(conn Conn) error {
		var err error
		ts, ok, err = db.marker.read(conn)
		return wrapEngineErr("read", db.name, err)
	})
	if err != nil {
		return "", false, err
	}
	return ts, ok, nil
}

// SetTimezone validates tz against the host timezone database and
// adopts it for marker timestamps. Returns false, never an error, if
// the timezone is unknown.
func (db *DB) SetTimezone(tz string) bool {
	return db.marker.setTimezone(tz)
}

// SetMarkerContainerName overrides the internal container holding the
// modification marker. Empty or blank names are silently ignored.
func (db *DB) SetMarkerContainerName(name string) {
	db.marker.setContainerName(name)
}

// MarkerContainerName returns the container currently holding the
// modification marker.
func (db *DB) MarkerContainerName() string {
	return db.marker.containerName()
}
