package exportstates

import (
	"context"

	"github.com/mkuznecov/fileexport/internal/server/models"
)

// Repository is the keyed store for transient export state. OnTimer always
// reloads through Get before mutating, so implementations must persist the
// full state on every Save.
type Repository interface {
	// Save upserts the state for its job id.
	Save(ctx context.Context, st *models.ExportState) error
	// Get returns the state for jobID, or common.ErrorNotFound.
	Get(ctx context.Context, jobID string) (*models.ExportState, error)
	// Delete removes the state. Deleting absent state is not an error.
	Delete(ctx context.Context, jobID string) error
}
