package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/mkuznecov/fileexport/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildArchive(t *testing.T, blobs *fakeBlobStore, st *models.ExportState) *zip.Reader {
	t.Helper()

	b := NewArchiveBuilder(blobs, discardLogger())
	body := b.Build(context.Background(), st)
	content, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())

	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	return zr
}

func readEntry(t *testing.T, zr *zip.Reader, name string) []byte {
	t.Helper()
	f, err := zr.Open(name)
	require.NoError(t, err, "entry %s", name)
	defer f.Close()
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	return content
}

func TestBuild_EntryLayout(t *testing.T) {
	blobs := newFakeBlobStore()
	blobs.put("k1", []byte("first"))
	blobs.put("k2", []byte("second"))

	st := &models.ExportState{
		JobID:   "j1",
		OwnerID: "u1",
		Processed: []models.ProcessedFile{
			{ID: "f1", StorageKey: "k1", Filename: "a.jpg", SizeBytes: 5, Product: "photos", Category: "camera"},
			{ID: "f2", StorageKey: "k2", Filename: "b.pdf", SizeBytes: 6, Product: "documents", Category: "tax"},
		},
	}

	zr := buildArchive(t, blobs, st)

	require.Len(t, zr.File, 4)
	// readme first, manifest second, then files in discovery order
	assert.Equal(t, "README.txt", zr.File[0].Name)
	assert.Equal(t, "manifest.json", zr.File[1].Name)
	assert.Equal(t, "photos/camera/a.jpg", zr.File[2].Name)
	assert.Equal(t, "documents/tax/b.pdf", zr.File[3].Name)

	assert.Equal(t, []byte("first"), readEntry(t, zr, "photos/camera/a.jpg"))
	assert.Equal(t, []byte("second"), readEntry(t, zr, "documents/tax/b.pdf"))
}

func TestBuild_ManifestMatchesProcessedOrder(t *testing.T) {
	blobs := newFakeBlobStore()
	st := &models.ExportState{JobID: "j1", OwnerID: "u1"}
	for i := 0; i < 5; i++ {
		key := string(rune('a' + i))
		blobs.put(key, []byte("x"))
		st.Processed = append(st.Processed, models.ProcessedFile{
			StorageKey: key,
			Filename:   key + ".dat",
			SizeBytes:  int64(i),
			Product:    "photos",
			Category:   "misc",
		})
	}

	zr := buildArchive(t, blobs, st)

	var manifest []models.ManifestEntry
	require.NoError(t, json.Unmarshal(readEntry(t, zr, "manifest.json"), &manifest))
	require.Len(t, manifest, 5)
	for i, entry := range manifest {
		assert.Equal(t, st.Processed[i].StorageKey, entry.StorageKey, "position %d", i)
		assert.Equal(t, st.Processed[i].Filename, entry.Filename)
	}
}

func TestBuild_EmptyExportHasEmptyManifestArray(t *testing.T) {
	st := &models.ExportState{JobID: "j1", OwnerID: "u1", Processed: []models.ProcessedFile{}}

	zr := buildArchive(t, newFakeBlobStore(), st)

	require.Len(t, zr.File, 2)
	var manifest []models.ManifestEntry
	require.NoError(t, json.Unmarshal(readEntry(t, zr, "manifest.json"), &manifest))
	assert.Empty(t, manifest)
	assert.NotEmpty(t, readEntry(t, zr, "README.txt"))
}

// A blob that vanished between discovery and finalize is omitted from the
// archive but stays in the manifest, which reflects discovery.
func TestBuild_SkipsVanishedBlob(t *testing.T) {
	blobs := newFakeBlobStore()
	blobs.put("k1", []byte("still here"))

	st := &models.ExportState{
		JobID:   "j1",
		OwnerID: "u1",
		Processed: []models.ProcessedFile{
			{StorageKey: "k1", Filename: "a.dat", Product: "photos", Category: "misc"},
			{StorageKey: "gone", Filename: "b.dat", Product: "photos", Category: "misc"},
		},
	}

	zr := buildArchive(t, blobs, st)

	require.Len(t, zr.File, 3)
	assert.Equal(t, "photos/misc/a.dat", zr.File[2].Name)
}

func TestBuild_FetchErrorSurfacesToConsumer(t *testing.T) {
	blobs := newFakeBlobStore()
	blobs.put("k1", []byte("x"))

	st := &models.ExportState{
		JobID:     "j1",
		OwnerID:   "u1",
		Processed: []models.ProcessedFile{{StorageKey: "k1", Filename: "a.dat"}},
	}

	// Fetch errors other than not-found must abort the stream.
	failing := &failingFetchStore{fakeBlobStore: blobs}
	b := NewArchiveBuilder(failing, discardLogger())
	body := b.Build(context.Background(), st)
	_, err := io.ReadAll(body)
	require.ErrorContains(t, err, "archive")
	_ = body.Close()
}

type failingFetchStore struct {
	*fakeBlobStore
}

func (f *failingFetchStore) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, io.ErrUnexpectedEOF
}
