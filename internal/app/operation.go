package app

import (
	"time"

	"github.com/google/uuid"
)

// Operation tracks one CLI invocation for the log. Every log line of the
// invocation carries its RunID.
type Operation struct {
	RunID     string
	Name      string
	StartedAt time.Time
	Status    string // "running", "success" or "error"
}

// NewOperation starts tracking a named operation.
func NewOperation(name string, startedAt time.Time) *Operation {
	return &Operation{
		RunID:     uuid.New().String(),
		Name:      name,
		StartedAt: startedAt,
		Status:    "running",
	}
}

// Finish records the outcome of the operation.
func (op *Operation) Finish(err error) {
	if err != nil {
		op.Status = "error"
		return
	}
	op.Status = "success"
}

// Finished returns true once Finish has been called.
func (op *Operation) Finished() bool {
	return op.Status != "running"
}
