package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mkuznecov/fileexport/internal/blobstore"
	"github.com/mkuznecov/fileexport/internal/common"
	"github.com/mkuznecov/fileexport/internal/dbx"
	"github.com/mkuznecov/fileexport/internal/logging"
	"github.com/mkuznecov/fileexport/internal/server/models"
	"github.com/mkuznecov/fileexport/internal/server/repositories/repomanager"
)

// Options configure the controller's chunking and pacing.
type Options struct {
	// InitialDelay is the delay before the first timer tick after Start.
	InitialDelay time.Duration
	// ChunkDelay spaces out ticks to throttle blob-store request rate.
	ChunkDelay time.Duration
	// PageLimit is the per-chunk row cap of the discovery query.
	PageLimit int
	// ProbeWidth is the fan-out of existence probes within a chunk.
	ProbeWidth int
	// SizeThreshold stops a chunk sequence early once the accumulated
	// payload crosses it.
	SizeThreshold int64
	// Retention is how long a finished archive is kept.
	Retention time.Duration
}

func (o *Options) applyDefaults() {
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.ChunkDelay <= 0 {
		o.ChunkDelay = 3 * time.Second
	}
	if o.PageLimit <= 0 {
		o.PageLimit = 100
	}
	if o.ProbeWidth <= 0 {
		o.ProbeWidth = 10
	}
	if o.SizeThreshold <= 0 {
		o.SizeThreshold = 50 * 1024 * 1024
	}
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
}

// Controller drives one export job at a time per job id through the
// pending → processing → {completed, failed} state machine. All transient
// state is persisted on every tick and reloaded before mutation, so a
// controller instance may be replaced between ticks without losing progress.
type Controller struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
	log   logging.Logger
	opts  Options

	disc *Discoverer
	arch *ArchiveBuilder
	fin  *Finalizer

	keys keyedMutex

	// afterFunc and now are seams for tests.
	afterFunc func(d time.Duration, fn func()) *time.Timer
	now       func() time.Time
}

func NewController(db *sql.DB, repos repomanager.RepositoryManager, blobs blobstore.Store, log logging.Logger, opts Options) *Controller {
	opts.applyDefaults()

	return &Controller{
		db:        db,
		repos:     repos,
		log:       log.With("module", "export"),
		opts:      opts,
		disc:      NewDiscoverer(repos.FileRecords(db), blobs, log, opts.PageLimit, opts.ProbeWidth, opts.SizeThreshold),
		arch:      NewArchiveBuilder(blobs, log),
		fin:       NewFinalizer(db, repos, blobs, opts.Retention),
		afterFunc: time.AfterFunc,
		now:       time.Now,
	}
}

// archiveKey derives the upload target at job start. The timestamp keeps
// keys from colliding when a job is restarted.
func archiveKey(ownerID, jobID string, t time.Time) string {
	return fmt.Sprintf("exports/%s/%s/%d.zip", ownerID, jobID, t.UnixNano())
}

// Start begins or restarts the job: it builds fresh transient state at
// offset zero, marks the job processing, and arms the first timer. Calling
// Start on an already-processing job replaces its in-flight state, so only
// the trigger path and the sweep may call it.
func (c *Controller) Start(ctx context.Context, jobID string) error {
	unlock := c.keys.lock(jobID)
	defer unlock()

	job, err := c.repos.Jobs(c.db).GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	st := &models.ExportState{
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		Kind:       job.Kind,
		Filters:    job.Filters,
		Processed:  []models.ProcessedFile{},
		Missing:    []string{},
		ArchiveKey: archiveKey(job.OwnerID, job.ID, c.now()),
		CreatedAt:  c.now(),
	}

	if err := c.repos.ExportStates(c.db).Save(ctx, st); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := c.repos.Jobs(c.db).MarkProcessing(ctx, jobID); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	c.log.Info(ctx, "export started", "job_id", jobID, "kind", job.Kind)
	c.armTimer(jobID, c.opts.InitialDelay)
	return nil
}

// OnTimer processes exactly one chunk. When discovery is exhausted it builds
// and uploads the archive within the same tick. A tick that finds no
// transient state is a stale timer and a no-op.
func (c *Controller) OnTimer(ctx context.Context, jobID string) error {
	unlock := c.keys.lock(jobID)
	defer unlock()

	st, err := c.repos.ExportStates(c.db).Get(ctx, jobID)
	if errors.Is(err, common.ErrorNotFound) {
		c.log.Info(ctx, "timer fired for job without state, ignoring", "job_id", jobID)
		return nil
	}
	if err != nil {
		return c.fail(ctx, jobID, fmt.Errorf("load state: %w", err))
	}

	more, err := c.disc.ProcessChunk(ctx, st)
	if err != nil {
		return c.fail(ctx, jobID, err)
	}
	if err := c.repos.ExportStates(c.db).Save(ctx, st); err != nil {
		return c.fail(ctx, jobID, fmt.Errorf("save state: %w", err))
	}

	if more {
		c.log.Debug(ctx, "chunk processed", "job_id", jobID, "offset", st.Offset, "size_bytes", st.SizeBytes)
		c.armTimer(jobID, c.opts.ChunkDelay)
		return nil
	}

	body := c.arch.Build(ctx, st)
	defer body.Close()
	if err := c.fin.Finalize(ctx, st, body); err != nil {
		return c.fail(ctx, jobID, err)
	}

	c.log.Info(ctx, "export completed", "job_id", jobID,
		"files", len(st.Processed), "missing", len(st.Missing), "size_bytes", st.SizeBytes)
	return nil
}

// fail is the attempt-level error boundary: it records the failure on the
// job record and deletes the transient state. Recovery is the sweep's job,
// which restarts from offset zero.
func (c *Controller) fail(ctx context.Context, jobID string, cause error) error {
	c.log.Error(ctx, "export attempt failed", "job_id", jobID, "error", cause)

	err := dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := c.repos.Jobs(tx).MarkFailed(ctx, jobID, cause.Error()); err != nil {
			return err
		}
		return c.repos.ExportStates(tx).Delete(ctx, jobID)
	})
	if err != nil {
		return errors.Join(cause, fmt.Errorf("record failure: %w", err))
	}
	return cause
}

func (c *Controller) armTimer(jobID string, d time.Duration) {
	c.afterFunc(d, func() {
		ctx := context.Background()
		if err := c.OnTimer(ctx, jobID); err != nil {
			c.log.Error(ctx, "timer tick failed", "job_id", jobID, "error", err)
		}
	})
}
