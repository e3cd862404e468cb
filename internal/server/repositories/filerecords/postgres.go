package filerecords

import (
	"context"
	"fmt"

	"github.com/mkuznecov/fileexport/internal/dbx"
	"github.com/mkuznecov/fileexport/internal/server/models"
)

// PostgresRepository implements read-only file-record access over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// SelectPage executes the paginated discovery query. Optional predicates are
// appended with numbered placeholders so every filter value stays a bound
// parameter.
func (r *PostgresRepository) SelectPage(ctx context.Context, f Filter) ([]*models.FileRecord, error) {
	query := `
		SELECT id, storage_key, filename, size_bytes, mime_type, product, category, created_at
		FROM files
		WHERE owner_id = $1 AND deleted = false`
	args := []any{f.OwnerID}

	if f.Product != "" {
		args = append(args, f.Product)
		query += fmt.Sprintf(" AND product = $%d", len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}

	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.FileRecord
	for rows.Next() {
		var item models.FileRecord
		if err := rows.Scan(&item.ID, &item.StorageKey, &item.Filename, &item.SizeBytes,
			&item.MimeType, &item.Product, &item.Category, &item.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
