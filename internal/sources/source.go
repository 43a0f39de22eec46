// Package sources fetches documents from external systems and turns them
// into docstore records.
package sources

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
)

// ErrRateLimited is returned when an API keeps rejecting requests after
// the backoff.
var ErrRateLimited = errors.New("rate limited")

// DocumentSource produces records for ingestion.
type DocumentSource interface {
	// Name identifies the source in logs and sync reports.
	Name() string
	// Origin is the Record.Source of every record the source produces.
	Origin() string
	// FetchAll returns every document the source currently holds. A
	// cancelled ctx returns ctx.Err() and no partial results.
	FetchAll(ctx context.Context) ([]docstore.Record, error)
}
