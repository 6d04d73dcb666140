package index

import "fmt"

// InvariantError describes an update that did not affect exactly one row.
// It matches ErrInvariantViolation with errors.Is.
type InvariantError struct {
	ID       int64
	Path     string
	Affected int64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("update of entry %d (%s) affected %d rows, want 1", e.ID, e.Path, e.Affected)
}

func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariantViolation
}
