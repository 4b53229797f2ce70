// ABOUTME: Error taxonomy sentinels shared across the storage engine
// ABOUTME: Storage packages wrap these via fmt.Errorf("...: %w", err); pkg/record keeps its own ErrMalformed

package vfs

import "errors"

var (
	// ErrNotFound is returned when a requested page, key, or file does not exist.
	ErrNotFound = errors.New("decentdb: not found")
	// ErrAlreadyExists is returned when a create operation collides with an existing entity.
	ErrAlreadyExists = errors.New("decentdb: already exists")
	// ErrMalformed is returned when on-disk bytes fail to decode per format rules.
	ErrMalformed = errors.New("decentdb: malformed")
	// ErrCorrupted is returned when a checksum or structural invariant fails.
	ErrCorrupted = errors.New("decentdb: corrupted")
	// ErrResourceExhausted is returned when a bounded resource (cache, buffer) cannot admit more.
	ErrResourceExhausted = errors.New("decentdb: resource exhausted")
	// ErrDurabilityFailed is returned when an fsync or durable write could not be guaranteed.
	ErrDurabilityFailed = errors.New("decentdb: durability failed")
	// ErrSnapshotExpired is returned when a reader's snapshot was reclaimed by a forced checkpoint.
	ErrSnapshotExpired = errors.New("decentdb: snapshot expired")
	// ErrNotSelective is returned when a trigram query's estimated selectivity is too low to execute.
	ErrNotSelective = errors.New("decentdb: not selective")
	// ErrIncompatibleFormat is returned when a file's format identifier does not match this engine.
	ErrIncompatibleFormat = errors.New("decentdb: incompatible format")
	// ErrBusy is returned when a write transaction cannot proceed because another is active.
	ErrBusy = errors.New("decentdb: busy")
)
