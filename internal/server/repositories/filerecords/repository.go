package filerecords

import (
	"context"

	"github.com/mkuznecov/fileexport/internal/server/models"
)

// Filter is the fully resolved predicate set for one page of the discovery
// query. Empty Product/Category fields add no restriction. All values are
// passed to the database as bound parameters, never spliced into SQL text.
type Filter struct {
	OwnerID  string
	Product  string
	Category string
	Limit    int
	Offset   int
}

type Repository interface {
	// SelectPage returns one page of non-deleted file records matching f,
	// newest first.
	SelectPage(ctx context.Context, f Filter) ([]*models.FileRecord, error)
}
