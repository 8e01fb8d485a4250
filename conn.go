package carton

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// connManager owns the connection lifecycle. Every logical operation
// opens a fresh connection and releases it unconditionally on the way
// out, whether the operation succeeds, fails or aborts, so connections
// never leak across operations.
type connManager struct {
	eng    Engine
	logger *slog.Logger
}

// open opens a connection to the named database and routes it to the
// callbacks. With version == 0 the database opens at its current
// version (the CRUD path). With version > 0 the engine runs the
// upgrade callback exactly once inside the exclusive upgrade
// transaction before the connection becomes available; this is the only
// place structural edits may happen.
//
// The success callback, if any, then receives the open connection for
// non-structural work.
func (m *connManager) open(ctx context.Context, name string, version uint64, upgrade func(UpgradeTxn) error, success func(Conn) error) error {
	if m.eng == nil {
		return ErrUnsupportedEnvironment
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	id := uuid.NewString()
	var conn Conn
	var err error
	if version > 0 {
		m.logger.Debug("opening for upgrade", "db", name, "version", version, "conn", id)
		conn, err = m.eng.OpenVersion(name, version, upgrade)
	} else {
		m.logger.Debug("opening", "db", name, "conn", id)
		conn, err = m.eng.Open(name)
	}
	if err != nil {
		if errors.Is(err, ErrConnectionBlocked) {
			m.logger.Warn("open blocked by another connection", "db", name, "conn", id)
		}
		return wrapEngineErr("open", name, err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			m.logger.Warn("closing connection", "db", name, "conn", id, "error", cerr)
		}
	}()

	if success != nil {
		if err := success(conn); err != nil {
			return err
		}
	}
	return nil
}

// wrapEngineErr wraps unknown host failures in EngineError; taxonomy
// errors and already-typed errors pass through untouched.
func wrapEngineErr(op, name string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrConnectionBlocked),
		errors.Is(err, ErrDatabaseNotFound),
		errors.Is(err, ErrNoSuchContainer),
		errors.Is(err, ErrNoSuchIndex),
		errors.Is(err, ErrConstraintViolation),
		errors.Is(err, ErrUnsupportedEnvironment),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	var (
		invalid *InvalidArgumentError
		engErr  *EngineError
		schErr  *SchemaUpdateError
	)
	if errors.As(err, &invalid) || errors.As(err, &engErr) || errors.As(err, &schErr) {
		return err
	}
	return engineErrf(op, name, err)
}
