package models

import "time"

// FileRecord describes metadata for a user file whose content lives in
// object storage. The export pipeline reads these records, it never writes
// them.
type FileRecord struct {
	ID         string
	StorageKey string
	Filename   string
	SizeBytes  int64
	MimeType   string
	Product    string
	Category   string
	CreatedAt  time.Time
}
