package jobs

import (
	"context"
	"time"

	"github.com/mkuznecov/fileexport/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, archiveKey string, fileCount int, sizeBytes int64, expiresAt time.Time) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	SelectStuck(ctx context.Context, cutoff time.Time) ([]string, error)
	SelectExpired(ctx context.Context, now time.Time) ([]*models.Job, error)
	ClearArchive(ctx context.Context, id string) error
}
