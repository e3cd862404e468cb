package export

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/mkuznecov/fileexport/internal/blobstore"
	"github.com/mkuznecov/fileexport/internal/dbx"
	"github.com/mkuznecov/fileexport/internal/server/models"
	"github.com/mkuznecov/fileexport/internal/server/repositories/repomanager"
)

// Finalizer streams the produced archive into its target key and writes the
// terminal success state to the job record.
type Finalizer struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	blobs     blobstore.Store
	retention time.Duration

	now func() time.Time
}

func NewFinalizer(db *sql.DB, repos repomanager.RepositoryManager, blobs blobstore.Store, retention time.Duration) *Finalizer {
	return &Finalizer{
		db:        db,
		repos:     repos,
		blobs:     blobs,
		retention: retention,
		now:       time.Now,
	}
}

// Finalize uploads body under the state's archive key with descriptive
// metadata, then marks the job completed and deletes the transient state in
// one transaction. Any error here fails the current attempt; the caller's
// error boundary converts it into a failed job.
func (f *Finalizer) Finalize(ctx context.Context, st *models.ExportState, body io.Reader) error {
	metadata := map[string]string{
		"job-id":     st.JobID,
		"owner-id":   st.OwnerID,
		"kind":       string(st.Kind),
		"file-count": strconv.Itoa(len(st.Processed)),
		"size-bytes": strconv.FormatInt(st.SizeBytes, 10),
	}

	if err := f.blobs.Upload(ctx, st.ArchiveKey, body, metadata); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	expiresAt := f.now().Add(f.retention)
	err := dbx.WithTx(ctx, f.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := f.repos.Jobs(tx).MarkCompleted(ctx, st.JobID, st.ArchiveKey, len(st.Processed), st.SizeBytes, expiresAt); err != nil {
			return err
		}
		return f.repos.ExportStates(tx).Delete(ctx, st.JobID)
	})
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}
