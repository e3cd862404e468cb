// Package export implements the export job orchestrator: chunked file
// discovery, archive building, upload finalization, the per-job lifecycle
// controller, and the stuck-job sweep.
package export

import (
	"fmt"

	"github.com/mkuznecov/fileexport/internal/common"
	"github.com/mkuznecov/fileexport/internal/server/models"
	"github.com/mkuznecov/fileexport/internal/server/repositories/filerecords"
)

// BuildFilter resolves an export kind into the discovery predicate set,
// selected once at query-build time. Kind-specific variants restrict by
// product tag; the category kind restricts by the category named in the
// job's filters, or adds no restriction when the filter is absent.
func BuildFilter(kind models.ExportKind, filters map[string]string, ownerID string) (filerecords.Filter, error) {
	f := filerecords.Filter{OwnerID: ownerID}

	switch kind {
	case models.KindFull:
		// no additional restriction
	case models.KindPhotos:
		f.Product = "photos"
	case models.KindDocuments:
		f.Product = "documents"
	case models.KindCategory:
		if c, ok := filters["category"]; ok {
			f.Category = c
		}
	default:
		return filerecords.Filter{}, fmt.Errorf("%w: %q", common.ErrorUnknownExportKind, kind)
	}

	return f, nil
}
