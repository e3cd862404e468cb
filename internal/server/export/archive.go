package export

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/mkuznecov/fileexport/internal/blobstore"
	"github.com/mkuznecov/fileexport/internal/common"
	"github.com/mkuznecov/fileexport/internal/logging"
	"github.com/mkuznecov/fileexport/internal/server/models"
)

const (
	readmeName   = "README.txt"
	manifestName = "manifest.json"
)

const readmeText = `This archive contains an export of your stored files.

manifest.json lists every file in the archive together with its size and
storage key. Files are laid out as {product}/{category}/{filename}.

The archive is retained for 7 days after it was produced.
`

// ArchiveBuilder serializes the readme, the manifest, and the processed
// files into a single compressed zip stream. The producer goroutine writes
// entries into one end of a pipe while the consumer drains the other, so the
// archive is never fully materialized in memory.
type ArchiveBuilder struct {
	blobs blobstore.Store
	log   logging.Logger
}

func NewArchiveBuilder(blobs blobstore.Store, log logging.Logger) *ArchiveBuilder {
	return &ArchiveBuilder{blobs: blobs, log: log.With("module", "archive")}
}

// Build starts the producer and returns the read end of the stream. A write
// error is surfaced to the consumer through the pipe; closing the returned
// reader aborts production.
func (b *ArchiveBuilder) Build(ctx context.Context, st *models.ExportState) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		zw := zip.NewWriter(pw)
		err := b.write(ctx, zw, st)
		// Close finalizes the zip trailer; keep the first error.
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	return pr
}

func (b *ArchiveBuilder) write(ctx context.Context, zw *zip.Writer, st *models.ExportState) error {
	w, err := zw.Create(readmeName)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if _, err := io.WriteString(w, readmeText); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	manifest, err := json.MarshalIndent(st.Manifest(), "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal manifest: %w", err)
	}
	w, err = zw.Create(manifestName)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if _, err := w.Write(manifest); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	for _, f := range st.Processed {
		body, err := b.blobs.Fetch(ctx, f.StorageKey)
		if errors.Is(err, common.ErrorNotFound) {
			// Vanished between discovery and finalize; omit it.
			b.log.Debug(ctx, "blob gone before archiving, skipped", "storage_key", f.StorageKey)
			continue
		}
		if err != nil {
			return fmt.Errorf("archive: fetch %q: %w", f.StorageKey, err)
		}

		w, err := zw.Create(path.Join(f.Product, f.Category, f.Filename))
		if err != nil {
			body.Close()
			return fmt.Errorf("archive: %w", err)
		}
		_, err = io.Copy(w, body)
		body.Close()
		if err != nil {
			return fmt.Errorf("archive: copy %q: %w", f.StorageKey, err)
		}
	}

	return nil
}
