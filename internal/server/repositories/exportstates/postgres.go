package exportstates

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mkuznecov/fileexport/internal/common"
	"github.com/mkuznecov/fileexport/internal/dbx"
	"github.com/mkuznecov/fileexport/internal/server/models"
)

// PostgresRepository persists transient export state as a JSONB document
// keyed by job id.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save upserts the serialized state by job_id, replacing any previous
// document.
func (r *PostgresRepository) Save(ctx context.Context, st *models.ExportState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	query := `
		INSERT INTO export_states (job_id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (job_id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, st.JobID, data); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Get loads and deserializes the state for jobID.
func (r *PostgresRepository) Get(ctx context.Context, jobID string) (*models.ExportState, error) {
	query := `SELECT data FROM export_states WHERE job_id = $1`

	var data []byte
	err := r.db.QueryRowContext(ctx, query, jobID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select state: %w", err)
	}

	st := &models.ExportState{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return st, nil
}

// Delete removes the state row if present.
func (r *PostgresRepository) Delete(ctx context.Context, jobID string) error {
	query := `DELETE FROM export_states WHERE job_id = $1`
	if _, err := r.db.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}
