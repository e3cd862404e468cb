package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mkuznecov/fileexport/internal/common"
	"github.com/mkuznecov/fileexport/internal/dbx"
	"github.com/mkuznecov/fileexport/internal/server/models"
)

// PostgresRepository implements export-job storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new job row in status "pending".
func (r *PostgresRepository) Create(ctx context.Context, job *models.Job) error {
	filters, err := json.Marshal(job.Filters)
	if err != nil {
		return fmt.Errorf("failed to marshal filters: %w", err)
	}
	query := `
		INSERT INTO export_jobs (id, owner_id, kind, filters, status)
		VALUES ($1, $2, $3, $4, 'pending')
	`
	if _, err := r.db.ExecContext(ctx, query, job.ID, job.OwnerID, job.Kind, filters); err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetByID returns the job row for id, or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT id, owner_id, kind, filters, status, archive_key, file_count,
			size_bytes, expires_at, error_msg, created_at, updated_at
		FROM export_jobs WHERE id = $1
	`
	job := &models.Job{}
	var filters []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.OwnerID, &job.Kind, &filters, &job.Status,
		&job.ArchiveKey, &job.FileCount, &job.SizeBytes, &job.ExpiresAt,
		&job.ErrorMsg, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select job: %w", err)
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &job.Filters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal filters: %w", err)
		}
	}
	return job, nil
}

// MarkProcessing sets the job status to "processing". Exactly one row must
// be affected.
func (r *PostgresRepository) MarkProcessing(ctx context.Context, id string) error {
	query := `UPDATE export_jobs SET status='processing', updated_at=now() WHERE id=$1`
	return r.execOne(ctx, query, id)
}

// MarkCompleted records the terminal success state together with the archive
// result fields and clears any previous error message.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, id, archiveKey string, fileCount int, sizeBytes int64, expiresAt time.Time) error {
	query := `
		UPDATE export_jobs
		SET status='completed', archive_key=$2, file_count=$3, size_bytes=$4,
			expires_at=$5, error_msg='', updated_at=now()
		WHERE id=$1
	`
	return r.execOne(ctx, query, id, archiveKey, fileCount, sizeBytes, expiresAt)
}

// MarkFailed records the terminal failure state and clears any result fields
// so that a terminal job never carries both.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id, errMsg string) error {
	query := `
		UPDATE export_jobs
		SET status='failed', error_msg=$2, archive_key='', file_count=0,
			size_bytes=0, expires_at=NULL, updated_at=now()
		WHERE id=$1
	`
	return r.execOne(ctx, query, id, errMsg)
}

// SelectStuck returns ids of jobs the sweep should re-drive: pending jobs,
// jobs processing since before cutoff without a recorded archive key, and
// failed jobs whose last attempt ended before cutoff.
func (r *PostgresRepository) SelectStuck(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		SELECT id FROM export_jobs
		WHERE status='pending'
			OR (status='processing' AND archive_key='' AND updated_at < $1)
			OR (status='failed' AND updated_at < $1)
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to select stuck jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// SelectExpired returns completed jobs whose archive retention window has
// passed and whose archive object has not been removed yet.
func (r *PostgresRepository) SelectExpired(ctx context.Context, now time.Time) ([]*models.Job, error) {
	query := `
		SELECT id, owner_id, archive_key FROM export_jobs
		WHERE status='completed' AND archive_key <> '' AND expires_at < $1
	`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired jobs: %w", err)
	}
	defer rows.Close()

	var result []*models.Job
	for rows.Next() {
		job := &models.Job{}
		if err := rows.Scan(&job.ID, &job.OwnerID, &job.ArchiveKey); err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ClearArchive drops the archive reference of an expired job after its
// object has been deleted from storage.
func (r *PostgresRepository) ClearArchive(ctx context.Context, id string) error {
	query := `UPDATE export_jobs SET archive_key='', updated_at=now() WHERE id=$1`
	return r.execOne(ctx, query, id)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
