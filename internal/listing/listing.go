// Package listing discovers the filing rows published for a date by walking the
// portal's paginated listing pages.
package listing

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
)

// DefaultBaseURL is the directory holding the I_list_{page}_{date}.html pages.
const DefaultBaseURL = "https://www.release.tdnet.info/inbs"

// ErrPageFetch marks a listing page that could not be retrieved or parsed.
// Pagination stops but rows from earlier pages are kept.
var ErrPageFetch = errors.New("listing page fetch failed")

// Response is the raw result of fetching one listing URL.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher retrieves listing pages. Non-2xx statuses are returned in the
// Response, transport failures as errors.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// Availability is the outcome of the date probe.
type Availability int

const (
	NotFound Availability = iota
	Available
)

func (a Availability) String() string {
	if a == Available {
		return "available"
	}
	return "not_found"
}

// Page is one parsed listing page.
type Page struct {
	Index    int
	URL      string
	Rows     []disclosure.FilingRow
	Unlinked int
}
