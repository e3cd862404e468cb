package export

import (
	"context"
	"database/sql"
	"time"

	"github.com/mkuznecov/fileexport/internal/blobstore"
	"github.com/mkuznecov/fileexport/internal/logging"
	"github.com/mkuznecov/fileexport/internal/server/repositories/repomanager"
)

// Starter triggers a job attempt. Implemented by the Controller.
type Starter interface {
	Start(ctx context.Context, jobID string) error
}

// Sweep is the out-of-band recovery loop. It restarts jobs that never
// reached a terminal state in time and retires archives past their
// retention window. It only ever calls Start, relying on the controller's
// per-job serialization to stay safe next to live actors.
type Sweep struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	blobs   blobstore.Store
	starter Starter
	log     logging.Logger

	interval   time.Duration
	stuckAfter time.Duration

	now func() time.Time
}

func NewSweep(db *sql.DB, repos repomanager.RepositoryManager, blobs blobstore.Store, starter Starter, log logging.Logger, interval, stuckAfter time.Duration) *Sweep {
	return &Sweep{
		db:         db,
		repos:      repos,
		blobs:      blobs,
		starter:    starter,
		log:        log.With("module", "sweep"),
		interval:   interval,
		stuckAfter: stuckAfter,
		now:        time.Now,
	}
}

// Run loops until ctx is done.
func (s *Sweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass: restart stuck jobs, then delete expired
// archives. Status is filtered in the selection query, so a job that turns
// terminal between selection and Start only costs a wasted restart.
func (s *Sweep) RunOnce(ctx context.Context) {
	jobsRepo := s.repos.Jobs(s.db)

	ids, err := jobsRepo.SelectStuck(ctx, s.now().Add(-s.stuckAfter))
	if err != nil {
		s.log.Error(ctx, "stuck-job query failed", "error", err)
	} else {
		for _, id := range ids {
			s.log.Info(ctx, "restarting stuck job", "job_id", id)
			if err := s.starter.Start(ctx, id); err != nil {
				s.log.Error(ctx, "restart failed", "job_id", id, "error", err)
			}
		}
	}

	expired, err := jobsRepo.SelectExpired(ctx, s.now())
	if err != nil {
		s.log.Error(ctx, "expired-job query failed", "error", err)
		return
	}
	for _, job := range expired {
		if err := s.blobs.Delete(ctx, job.ArchiveKey); err != nil {
			s.log.Error(ctx, "archive delete failed", "job_id", job.ID, "error", err)
			continue
		}
		if err := jobsRepo.ClearArchive(ctx, job.ID); err != nil {
			s.log.Error(ctx, "archive ref clear failed", "job_id", job.ID, "error", err)
		}
	}
}
