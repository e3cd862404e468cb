package export

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mkuznecov/fileexport/internal/common"
	"github.com/mkuznecov/fileexport/internal/dbx"
	"github.com/mkuznecov/fileexport/internal/logging"
	"github.com/mkuznecov/fileexport/internal/server/models"
	"github.com/mkuznecov/fileexport/internal/server/repositories/exportstates"
	"github.com/mkuznecov/fileexport/internal/server/repositories/filerecords"
	"github.com/mkuznecov/fileexport/internal/server/repositories/jobs"
	"github.com/stretchr/testify/require"
)

// -------- test fakes --------

type fakeJobsRepo struct {
	jobs.Repository

	mu      sync.Mutex
	byID    map[string]*models.Job
	updated map[string]time.Time
}

func newFakeJobsRepo() *fakeJobsRepo {
	return &fakeJobsRepo{
		byID:    map[string]*models.Job{},
		updated: map[string]time.Time{},
	}
}

func (f *fakeJobsRepo) put(job *models.Job, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[job.ID] = job
	f.updated[job.ID] = at
}

func (f *fakeJobsRepo) get(id string) *models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

func (f *fakeJobsRepo) GetByID(ctx context.Context, id string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return job, nil
}

func (f *fakeJobsRepo) MarkProcessing(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].Status = models.StatusProcessing
	f.updated[id] = time.Now()
	return nil
}

func (f *fakeJobsRepo) MarkCompleted(ctx context.Context, id, archiveKey string, fileCount int, sizeBytes int64, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.byID[id]
	job.Status = models.StatusCompleted
	job.ArchiveKey = archiveKey
	job.FileCount = fileCount
	job.SizeBytes = sizeBytes
	job.ExpiresAt = &expiresAt
	job.ErrorMsg = ""
	f.updated[id] = time.Now()
	return nil
}

func (f *fakeJobsRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.byID[id]
	job.Status = models.StatusFailed
	job.ErrorMsg = errMsg
	job.ArchiveKey = ""
	job.FileCount = 0
	job.SizeBytes = 0
	job.ExpiresAt = nil
	f.updated[id] = time.Now()
	return nil
}

func (f *fakeJobsRepo) SelectStuck(ctx context.Context, cutoff time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, job := range f.byID {
		switch {
		case job.Status == models.StatusPending:
			ids = append(ids, id)
		case job.Status == models.StatusProcessing && job.ArchiveKey == "" && f.updated[id].Before(cutoff):
			ids = append(ids, id)
		case job.Status == models.StatusFailed && f.updated[id].Before(cutoff):
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeJobsRepo) SelectExpired(ctx context.Context, now time.Time) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.Job
	for _, job := range f.byID {
		if job.Status == models.StatusCompleted && job.ArchiveKey != "" &&
			job.ExpiresAt != nil && job.ExpiresAt.Before(now) {
			result = append(result, job)
		}
	}
	return result, nil
}

func (f *fakeJobsRepo) ClearArchive(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].ArchiveKey = ""
	return nil
}

// fakeStatesRepo round-trips state through JSON so tests exercise the same
// serialize-on-every-tick semantics the real store has.
type fakeStatesRepo struct {
	mu     sync.Mutex
	states map[string][]byte
}

func newFakeStatesRepo() *fakeStatesRepo {
	return &fakeStatesRepo{states: map[string][]byte{}}
}

func (f *fakeStatesRepo) Save(ctx context.Context, st *models.ExportState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[st.JobID] = data
	return nil
}

func (f *fakeStatesRepo) Get(ctx context.Context, jobID string) (*models.ExportState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.states[jobID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	st := &models.ExportState{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (f *fakeStatesRepo) Delete(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, jobID)
	return nil
}

func (f *fakeStatesRepo) has(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.states[jobID]
	return ok
}

type fakeFilesRepo struct {
	mu      sync.Mutex
	records []*models.FileRecord
	err     error
}

func (f *fakeFilesRepo) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFilesRepo) SelectPage(ctx context.Context, flt filerecords.Filter) ([]*models.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	var matched []*models.FileRecord
	for _, rec := range f.records {
		if flt.Product != "" && rec.Product != flt.Product {
			continue
		}
		if flt.Category != "" && rec.Category != flt.Category {
			continue
		}
		matched = append(matched, rec)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if flt.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[flt.Offset:]
	if len(matched) > flt.Limit {
		matched = matched[:flt.Limit]
	}
	return matched, nil
}

type fakeBlobStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	metadata  map[string]map[string]string
	probeErr  map[string]error
	uploadErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		objects:  map[string][]byte{},
		metadata: map[string]map[string]string{},
		probeErr: map[string]error{},
	}
}

func (f *fakeBlobStore) put(key string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = content
}

func (f *fakeBlobStore) remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
}

func (f *fakeBlobStore) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, ok
}

func (f *fakeBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.probeErr[key]; err != nil {
		return false, err
	}
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBlobStore) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.objects[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (f *fakeBlobStore) Upload(ctx context.Context, key string, body io.Reader, metadata map[string]string) error {
	content, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.objects[key] = content
	f.metadata[key] = metadata
	return nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type fakeManager struct {
	jobs   *fakeJobsRepo
	files  *fakeFilesRepo
	states *fakeStatesRepo
}

func (m *fakeManager) Jobs(dbx.DBTX) jobs.Repository { return m.jobs }

func (m *fakeManager) FileRecords(dbx.DBTX) filerecords.Repository { return m.files }

func (m *fakeManager) ExportStates(dbx.DBTX) exportstates.Repository { return m.states }

func (m *fakeManager) RunMigrations(context.Context, *sql.DB) error { return nil }

// -------- harness --------

type testEnv struct {
	ctl    *Controller
	jobs   *fakeJobsRepo
	files  *fakeFilesRepo
	states *fakeStatesRepo
	blobs  *fakeBlobStore

	mu     sync.Mutex
	delays []time.Duration
}

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// newTestEnv builds a controller over in-memory fakes. Timers are recorded
// instead of armed so tests drive ticks explicitly through OnTimer. The
// sqlmock database only ever sees transaction begin/commit/rollback from
// dbx.WithTx, so those are pre-expected in bulk.
func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 64; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}

	mgr := &fakeManager{
		jobs:   newFakeJobsRepo(),
		files:  &fakeFilesRepo{},
		states: newFakeStatesRepo(),
	}
	blobs := newFakeBlobStore()

	ctl := NewController(db, mgr, blobs, discardLogger(), opts)

	env := &testEnv{
		ctl:    ctl,
		jobs:   mgr.jobs,
		files:  mgr.files,
		states: mgr.states,
		blobs:  blobs,
	}
	ctl.afterFunc = func(d time.Duration, fn func()) *time.Timer {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.delays = append(env.delays, d)
		return nil
	}
	return env
}

func (e *testEnv) armedTimers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.delays)
}

// seedJob registers a pending job.
func (e *testEnv) seedJob(id, owner string, kind models.ExportKind, filters map[string]string) {
	e.jobs.put(&models.Job{
		ID:      id,
		OwnerID: owner,
		Kind:    kind,
		Filters: filters,
		Status:  models.StatusPending,
	}, time.Now())
}

// seedFiles creates n present files of the given size for owner, newest
// first by construction, and returns them in discovery order.
func (e *testEnv) seedFiles(owner string, n int, size int64) []*models.FileRecord {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	records := make([]*models.FileRecord, 0, n)
	for i := 0; i < n; i++ {
		rec := &models.FileRecord{
			ID:         fmt.Sprintf("f-%04d", i),
			StorageKey: fmt.Sprintf("blobs/%s/%04d", owner, i),
			Filename:   fmt.Sprintf("file-%04d.dat", i),
			SizeBytes:  size,
			Product:    "photos",
			Category:   "camera",
			CreatedAt:  base.Add(-time.Duration(i) * time.Minute),
		}
		records = append(records, rec)
		e.files.records = append(e.files.records, rec)
		e.blobs.put(rec.StorageKey, bytes.Repeat([]byte{0xAB}, 8))
	}
	return records
}
