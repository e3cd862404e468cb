package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mkuznecov/fileexport/internal/dbx"
	"github.com/mkuznecov/fileexport/internal/server/migrations"
	"github.com/mkuznecov/fileexport/internal/server/repositories/exportstates"
	"github.com/mkuznecov/fileexport/internal/server/repositories/filerecords"
	"github.com/mkuznecov/fileexport/internal/server/repositories/jobs"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository
// implementations and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

// Jobs returns a jobs.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Jobs(db dbx.DBTX) jobs.Repository {
	return jobs.NewPostgresRepository(db)
}

// FileRecords returns a filerecords.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) FileRecords(db dbx.DBTX) filerecords.Repository {
	return filerecords.NewPostgresRepository(db)
}

// ExportStates returns an exportstates.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) ExportStates(db dbx.DBTX) exportstates.Repository {
	return exportstates.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}
