// Package repomanager vends repository implementations bound to a database
// handle and owns schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/mkuznecov/fileexport/internal/dbx"
	"github.com/mkuznecov/fileexport/internal/server/repositories/exportstates"
	"github.com/mkuznecov/fileexport/internal/server/repositories/filerecords"
	"github.com/mkuznecov/fileexport/internal/server/repositories/jobs"
)

// RepositoryManager constructs repositories bound to a DBTX so the same
// repository code runs against *sql.DB and inside transactions.
type RepositoryManager interface {
	Jobs(db dbx.DBTX) jobs.Repository
	FileRecords(db dbx.DBTX) filerecords.Repository
	ExportStates(db dbx.DBTX) exportstates.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
