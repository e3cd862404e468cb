package models

import "time"

// ProcessedFile is one file confirmed to exist in object storage, in the
// order discovery found it.
type ProcessedFile struct {
	ID         string `json:"id"`
	StorageKey string `json:"storage_key"`
	Filename   string `json:"filename"`
	SizeBytes  int64  `json:"size_bytes"`
	Product    string `json:"product"`
	Category   string `json:"category"`
}

// ManifestEntry is the per-file record embedded in the archive's
// manifest.json, derived from a ProcessedFile.
type ManifestEntry struct {
	Filename   string `json:"filename"`
	SizeBytes  int64  `json:"size_bytes"`
	StorageKey string `json:"storage_key"`
	Product    string `json:"product"`
	Category   string `json:"category"`
}

// ExportState is the transient working set of a job between its start and
// its terminal status. It is serialized to the database on every timer tick
// so processing survives the process being swapped out between ticks, and it
// is deleted the moment the job completes or fails.
type ExportState struct {
	JobID   string            `json:"job_id"`
	OwnerID string            `json:"owner_id"`
	Kind    ExportKind        `json:"kind"`
	Filters map[string]string `json:"filters,omitempty"`

	// Offset is the current pagination offset into the file-record query.
	Offset int `json:"offset"`

	// Processed accumulates verified files in discovery order.
	Processed []ProcessedFile `json:"processed"`
	// Missing accumulates storage keys whose existence probe failed.
	Missing []string `json:"missing"`
	// SizeBytes is the running total over Processed.
	SizeBytes int64 `json:"size_bytes"`

	// ArchiveKey is the upload target, fixed when the job starts.
	ArchiveKey string `json:"archive_key"`

	CreatedAt time.Time `json:"created_at"`
}

// Manifest returns the manifest entries for the processed files, in
// discovery order. Missing files never appear.
func (s *ExportState) Manifest() []ManifestEntry {
	entries := make([]ManifestEntry, 0, len(s.Processed))
	for _, f := range s.Processed {
		entries = append(entries, ManifestEntry{
			Filename:   f.Filename,
			SizeBytes:  f.SizeBytes,
			StorageKey: f.StorageKey,
			Product:    f.Product,
			Category:   f.Category,
		})
	}
	return entries
}
