package session

import "errors"

// Error taxonomy for the session core, matching spec.md §7. Every fallible
// operation returns one of these (possibly wrapped with fmt.Errorf's %w)
// instead of a process-global last-error variable.
var (
	// ErrInvalidID means the caller supplied a session id outside the
	// grammar in spec.md §3 (neither UUID-shaped nor legacy-charset).
	ErrInvalidID = errors.New("session: invalid id")

	// ErrNotFound means a lookup by id found no record.
	ErrNotFound = errors.New("session: not found")

	// ErrAlreadyExists means an explicit create collided with an id already
	// held by the registry.
	ErrAlreadyExists = errors.New("session: already exists")

	// ErrEmptyName means a rename was attempted with an empty new name.
	ErrEmptyName = errors.New("session: name must not be empty")

	// ErrAttachConflict means Attach was called on a record that already
	// has a live connection. The caller's policy (implemented by the
	// connection adapter) is to detach-then-attach.
	ErrAttachConflict = errors.New("session: connection already attached")

	// ErrInvalidDimensions means Resize was called with a non-positive
	// column or row count.
	ErrInvalidDimensions = errors.New("session: terminal dimensions must be positive")

	// ErrCorruptedState covers every on-disk validation failure: an
	// unreadable version, an id/filename mismatch, or a truncated buffer
	// segment.
	ErrCorruptedState = errors.New("session: corrupted state")
)
