package export

import (
	"context"
	"fmt"
	"sync"

	"github.com/mkuznecov/fileexport/internal/blobstore"
	"github.com/mkuznecov/fileexport/internal/logging"
	"github.com/mkuznecov/fileexport/internal/server/models"
	"github.com/mkuznecov/fileexport/internal/server/repositories/filerecords"
)

// Discoverer pages through the owner's file records and verifies each file's
// blob actually exists before it is admitted into the export.
type Discoverer struct {
	files filerecords.Repository
	blobs blobstore.Store
	log   logging.Logger

	pageLimit     int
	probeWidth    int
	sizeThreshold int64
}

func NewDiscoverer(files filerecords.Repository, blobs blobstore.Store, log logging.Logger, pageLimit, probeWidth int, sizeThreshold int64) *Discoverer {
	return &Discoverer{
		files:         files,
		blobs:         blobs,
		log:           log.With("module", "discovery"),
		pageLimit:     pageLimit,
		probeWidth:    probeWidth,
		sizeThreshold: sizeThreshold,
	}
}

// ProcessChunk runs one bounded unit of discovery and verification, mutating
// st in place. It returns true when more chunks remain.
//
// A single probe failure or absent blob lands the file on the missing list
// and never aborts the chunk; only a failing page query is an error.
func (d *Discoverer) ProcessChunk(ctx context.Context, st *models.ExportState) (bool, error) {
	filter, err := BuildFilter(st.Kind, st.Filters, st.OwnerID)
	if err != nil {
		return false, err
	}
	filter.Limit = d.pageLimit
	filter.Offset = st.Offset

	records, err := d.files.SelectPage(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("discovery: %w", err)
	}
	if len(records) == 0 {
		return false, nil
	}

	for start := 0; start < len(records); start += d.probeWidth {
		end := min(start+d.probeWidth, len(records))
		d.probeBatch(ctx, st, records[start:end])
	}

	// Continue when the accumulated payload crossed the size threshold or a
	// full page suggests more rows exist; a short page means we are done.
	if st.SizeBytes >= d.sizeThreshold {
		st.Offset += len(records)
		return true, nil
	}
	if len(records) < d.pageLimit {
		return false, nil
	}
	st.Offset += len(records)
	return true, nil
}

// probeBatch issues concurrent existence probes for one sub-batch with a
// fan-in barrier, then appends results in row order so discovery order is
// preserved.
func (d *Discoverer) probeBatch(ctx context.Context, st *models.ExportState, batch []*models.FileRecord) {
	exists := make([]bool, len(batch))

	var wg sync.WaitGroup
	for i, rec := range batch {
		wg.Add(1)
		go func(i int, rec *models.FileRecord) {
			defer wg.Done()
			ok, err := d.blobs.Exists(ctx, rec.StorageKey)
			if err != nil {
				d.log.Warn(ctx, "existence probe failed", "storage_key", rec.StorageKey, "error", err)
				return
			}
			exists[i] = ok
		}(i, rec)
	}
	wg.Wait()

	for i, rec := range batch {
		if !exists[i] {
			st.Missing = append(st.Missing, rec.StorageKey)
			continue
		}
		st.Processed = append(st.Processed, models.ProcessedFile{
			ID:         rec.ID,
			StorageKey: rec.StorageKey,
			Filename:   rec.Filename,
			SizeBytes:  rec.SizeBytes,
			Product:    rec.Product,
			Category:   rec.Category,
		})
		st.SizeBytes += rec.SizeBytes
	}
}
