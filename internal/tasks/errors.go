package tasks

import (
	"fmt"

	"github.com/frak-id/atelier-sub002/internal/models"
)

// ValidationError reports missing or malformed user input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// InvalidStateError reports an operation that is not legal in the task's
// current status.
type InvalidStateError struct {
	TaskID string
	Status models.TaskStatus
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s task %s in status %s", e.Op, e.TaskID, e.Status)
}

// AdmissionError reports a workspace already at its active-task capacity.
type AdmissionError struct {
	WorkspaceID string
	Active      int
	Max         int
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("workspace %s has %d active tasks (max %d); complete or reset existing tasks first",
		e.WorkspaceID, e.Active, e.Max)
}

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.ID)
}
