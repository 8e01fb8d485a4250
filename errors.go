package carton

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedEnvironment is returned when no host storage engine
	// is available.
	ErrUnsupportedEnvironment = errors.New("storage engine unavailable")

	// ErrConnectionBlocked is returned when a competing open connection
	// prevents a version upgrade or a database delete. The operation may
	// be retried once the other connection is released.
	ErrConnectionBlocked = errors.New("connection blocked by another open connection")

	// ErrDatabaseNotFound is returned when the referenced database has
	// never been structurally initialized.
	ErrDatabaseNotFound = errors.New("database not found")

	// ErrNoSuchContainer is returned when the referenced container is
	// not declared in the database.
	ErrNoSuchContainer = errors.New("no such container")

	// ErrNoSuchIndex is returned when the referenced index is not
	// declared on the container.
	ErrNoSuchIndex = errors.New("no such index")

	// ErrConstraintViolation is returned when a unique index rejects a
	// second record with an equal field value.
	ErrConstraintViolation = errors.New("unique index constraint violation")
)

// InvalidArgumentError reports a malformed argument. It is always
// detected before any engine call is made.
type InvalidArgumentError struct {
	Arg string
	Msg string
}

func invalidArgf(arg, format string, args ...any) error {
	return &InvalidArgumentError{Arg: arg, Msg: fmt.Sprintf(format, args...)}
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Arg, e.Msg)
}

// EngineError wraps a failure reported by the host storage engine,
// carrying the underlying message.
//
// The original error can be accessed via errors.Unwrap.
type EngineError struct {
	Op       string
	Database string
	Err      error
}

func engineErrf(op, database string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Op: op, Database: database, Err: err}
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine: %s %s: %v", e.Op, e.Database, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// SchemaUpdateError reports a failure during a structural change. The
// upgrade transaction is rolled back atomically, so the schema and data
// are guaranteed to be as they were before the call.
//
// The original error can be accessed via errors.Unwrap.
type SchemaUpdateError struct {
	Container string
	Err       error
}

func schemaErrf(container string, err error) error {
	if err == nil {
		return nil
	}
	return &SchemaUpdateError{Container: container, Err: err}
}

func (e *SchemaUpdateError) Error() string {
	return fmt.Sprintf("schema update of %q failed: %v", e.Container, e.Err)
}

func (e *SchemaUpdateError) Unwrap() error { return e.Err }
