package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no job exists for the given id.
var ErrNotFound = errors.New("job not found")

// ErrStatusConflict is returned by Transition when the job's current status
// does not match the expected one. This is the optimistic guard that keeps
// two live invocations from both claiming the same job.
var ErrStatusConflict = errors.New("job status conflict")

// Store is the persistence interface consumed by the orchestrator.
// Implementations must make Update and Transition atomic per job and must
// refresh UpdatedAt on every applied mutation.
type Store interface {
	// Create inserts a new job record. The caller assigns the ID.
	Create(ctx context.Context, job *Job) error

	// Get returns the job by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// Update applies upd unconditionally and returns the updated record.
	Update(ctx context.Context, id string, upd Update) (*Job, error)

	// Transition applies upd only if the job's status currently equals
	// expect, returning ErrStatusConflict otherwise.
	Transition(ctx context.Context, id string, expect Status, upd Update) (*Job, error)
}
