// Package models defines server-side data models persisted in the database.
package models

import "time"

// ExportKind selects which subset of the owner's files an export covers.
type ExportKind string

const (
	// KindFull exports every non-deleted file the owner has.
	KindFull ExportKind = "full"
	// KindPhotos exports files tagged with the "photos" product.
	KindPhotos ExportKind = "photos"
	// KindDocuments exports files tagged with the "documents" product.
	KindDocuments ExportKind = "documents"
	// KindCategory exports files in the category named by the job's filters.
	KindCategory ExportKind = "category"
)

// JobStatus is the lifecycle state of an export job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition can leave the status.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the durable record of one export request. Result fields are
// populated only on completion, ErrorMsg only on failure; once the status is
// terminal exactly one of the two is set, never both.
type Job struct {
	ID      string
	OwnerID string
	Kind    ExportKind
	Filters map[string]string

	Status JobStatus

	// Result fields, set when Status is "completed".
	ArchiveKey string
	FileCount  int
	SizeBytes  int64
	ExpiresAt  *time.Time

	// ErrorMsg is set when Status is "failed".
	ErrorMsg string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidKind reports whether k is one of the supported export kinds.
func ValidKind(k ExportKind) bool {
	switch k {
	case KindFull, KindPhotos, KindDocuments, KindCategory:
		return true
	}
	return false
}
