package carton

import (
	"context"
	"errors"
	"fmt"
)

// IndexSpec declares an index on a container. The name doubles as the
// name of the indexed record field. Uniqueness defaults to false.
type IndexSpec struct {
	Name   string
	Unique bool
}

// CreateStatus is the outcome of CreateContainer.
type CreateStatus string

const (
	StatusCreated       CreateStatus = "created"
	StatusAlreadyExists CreateStatus = "already-exists"
)

// errUpgradeNoop aborts an upgrade transaction from inside its
// callback; the engine rolls back the version bump, so idempotent
// no-ops leave the observed version unchanged.
var errUpgradeNoop = errors.New("structural no-op, upgrade aborted")

// CreateContainer declares a container with the given indexes by
// bumping the database version by one inside an exclusive upgrade
// transaction. Creation is idempotent: if the container already exists
// the transaction is aborted, the version stays unchanged, and the
// call resolves with StatusAlreadyExists rather than an error.
func (db *DB) CreateContainer(ctx context.Context, name string, specs []IndexSpec) (CreateStatus, error) {
	if isBlankString(name) {
		return "", invalidArgf("name", "container name must be a non-empty string")
	}
	for i, spec := range specs {
		if isBlankString(spec.Name) {
			return "", invalidArgf("indexSpecs", "index %d has an empty name", i)
		}
	}

	version, err := db.currentVersion(ctx)
	if err != nil {
		return "", err
	}

	status := StatusCreated
	err = db.conns.open(ctx, db.name, version+1, func(utx UpgradeTxn) error {
		if utx.HasContainer(name) {
			status = StatusAlreadyExists
			return errUpgradeNoop
		}
		c, err := utx.CreateContainer(name)
		if err != nil {
			return err
		}
		for _, spec := range specs {
			if err := c.CreateIndex(spec.Name, spec.Unique); err != nil {
				return err
			}
		}
		return db.marker.touch(utx)
	}, nil)
	if errors.Is(err, errUpgradeNoop) {
		db.logger.Debug("container already exists", "db", db.name, "container", name)
		return status, nil
	}
	if err != nil {
		return "", structuralErr(name, err)
	}
	db.logger.Debug("container created", "db", db.name, "container", name, "indexes", len(specs))
	return status, nil
}

// DeleteContainer removes a container and all its records inside a
// version-bump transaction. Deleting a missing container is a no-op,
// not an error, and leaves the version unchanged. Fails with
// ErrDatabaseNotFound if the database has never been structurally
// initialized.
func (db *DB) DeleteContainer(ctx context.Context, name string) error {
	if isBlankString(name) {
		return invalidArgf("name", "container name must be a non-empty string")
	}

	version, err := db.currentVersion(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		return ErrDatabaseNotFound
	}

	err = db.conns.open(ctx, db.name, version+1, func(utx UpgradeTxn) error {
		if !utx.HasContainer(name) {
			return errUpgradeNoop
		}
		if err := utx.DeleteContainer(name); err != nil {
			return err
		}
		return db.marker.touch(utx)
	}, nil)
	if errors.Is(err, errUpgradeNoop) {
		return nil
	}
	if err != nil {
		return structuralErr(name, err)
	}
	db.logger.Debug("container deleted", "db", db.name, "container", name)
	return nil
}

// UpdateContainerStructure adds, removes and renames indexes on a
// container inside a single version-bump transaction. When indexes are
// renamed, every record is transformed in place: the container's
// records are snapshotted before the upgrade, the container is cleared,
// and the transformed records are reinserted in their original order,
// all inside the same transaction as the index edits. Any failure rolls
// the whole change back and surfaces as SchemaUpdateError.
func (db *DB) UpdateContainerStructure(ctx context.Context, name string, add []IndexSpec, remove []string, renames []RenameRule) error {
	if isBlankString(name) {
		return invalidArgf("name", "container name must be a non-empty string")
	}
	for i, spec := range add {
		if isBlankString(spec.Name) {
			return invalidArgf("add", "index %d has an empty name", i)
		}
	}
	for i, rm := range remove {
		if isBlankString(rm) {
			return invalidArgf("remove", "entry %d has an empty name", i)
		}
	}
	for i, rule := range renames {
		if isBlankString(rule.OldName) || isBlankString(rule.NewName) {
			return invalidArgf("renames", "rule %d must name both old and new index", i)
		}
	}

	// Snapshot the records before the schema edit so renamed fields can
	// be rewritten. This read runs outside the upgrade transaction.
	var snapshot []Record
	if len(renames) > 0 {
		var err error
		snapshot, err = db.SelectAll(ctx, name, nil)
		if err != nil {
			return err
		}
	}

	version, err := db.currentVersion(ctx)
	if err != nil {
		return err
	}

	err = db.conns.open(ctx, db.name, version+1, func(utx UpgradeTxn) error {
		c, err := utx.Container(name)
		if err != nil {
			return err
		}
		existing := make(map[string]bool)
		infos, err := c.Indexes()
		if err != nil {
			return err
		}
		for _, info := range infos {
			existing[info.Name] = true
		}

		// Renames are validated against the pre-edit schema, before any
		// index mutation is applied.
		for _, rule := range renames {
			if !existing[rule.OldName] {
				return fmt.Errorf("cannot rename index %q: %w", rule.OldName, ErrNoSuchIndex)
			}
			if existing[rule.NewName] {
				return fmt.Errorf("cannot rename index %q to %q: target already exists", rule.OldName, rule.NewName)
			}
		}

		for _, spec := range add {
			if existing[spec.Name] {
				continue
			}
			if err := c.CreateIndex(spec.Name, spec.Unique); err != nil {
				return err
			}
			existing[spec.Name] = true
		}
		for _, rm := range remove {
			if !existing[rm] {
				continue
			}
			if err := c.DeleteIndex(rm); err != nil {
				return err
			}
			delete(existing, rm)
		}
		for _, rule := range renames {
			if existing[rule.OldName] {
				if err := c.DeleteIndex(rule.OldName); err != nil {
					return err
				}
				delete(existing, rule.OldName)
			}
			if !existing[rule.NewName] {
				if err := c.CreateIndex(rule.NewName, rule.Unique); err != nil {
					return err
				}
				existing[rule.NewName] = true
			}
		}

		if len(renames) > 0 && len(snapshot) > 0 {
			if err := c.Clear(); err != nil {
				return err
			}
			for _, rec := range applyRenames(renames, snapshot) {
				if _, err := c.Add(rec); err != nil {
					return err
				}
			}
		}

		return db.marker.touch(utx)
	}, nil)
	if err != nil {
		return structuralErr(name, err)
	}
	db.logger.Debug("container structure updated", "db", db.name, "container", name,
		"added", len(add), "removed", len(remove), "renamed", len(renames))
	return nil
}

// currentVersion resolves the database version with a plain open,
// creating the database implicitly on first use.
func (db *DB) currentVersion(ctx context.Context) (uint64, error) {
	var version uint64
	err := db.conns.open(ctx, db.name, 0, nil, func(conn Conn) error {
		version = conn.Version()
		return nil
	})
	return version, err
}

// structuralErr maps a failure during a structural change onto the
// error taxonomy: retriable and argument errors pass through, anything
// else becomes a SchemaUpdateError signalling an atomic rollback.
func structuralErr(container string, err error) error {
	if err == nil {
		return nil
	}
	var invalid *InvalidArgumentError
	if errors.Is(err, ErrConnectionBlocked) ||
		errors.Is(err, ErrUnsupportedEnvironment) ||
		errors.Is(err, ErrDatabaseNotFound) ||
		errors.Is(err, ErrNoSuchContainer) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &invalid) {
		return err
	}
	var schErr *SchemaUpdateError
	if errors.As(err, &schErr) {
		return err
	}
	return schemaErrf(container, err)
}
