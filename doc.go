/*
Package carton implements a client layer over an embedded, versioned,
transactional key-value store with secondary indexes.

We implement:

1. Containers, named collections of schemaless records addressed by
synthetic auto-incrementing keys.

2. Indexes, mapping a record field's values to record keys, optionally
enforcing uniqueness.

3. Versioned schema migration: container and index create/delete/rename
always happens inside an exclusive upgrade transaction that bumps the
database version by exactly one, with in-place data transformation when
indexed fields are renamed.

4. A modification marker, a singleton record holding the timestamp of
the last structural change, written in the same transaction as the
change itself.

# Technical Details

**Engines.**
The host storage engine is abstracted behind the Engine interface; the
layer only consumes open/transaction/container/index/cursor primitives.
BoltEngine persists each database in its own bbolt file; MemEngine is a
transient snapshot-isolated store intended for tests.

**Connections.**
Connections are never held across operations. Every public operation
opens a fresh connection and releases it on completion, whether the
operation succeeds or fails. A version bump requires exclusive access:
if another connection is open, the engine reports ErrConnectionBlocked
instead of waiting.

**Versioning.**
The database version strictly increases by one for every structural
change. CRUD never changes it. Idempotent no-ops (creating an existing
container, deleting a missing one) abort the upgrade transaction, so
the observed version stays unchanged.

**Index renames.**
Renaming an indexed field rewrites every record in the container:
records are snapshotted before the upgrade, the container is cleared,
and the transformed records are reinserted inside the same upgrade
transaction as the index edits. Either everything commits or nothing
does.
*/
package carton
