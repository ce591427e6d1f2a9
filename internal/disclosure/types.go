package disclosure

import (
	"time"
)

// DocumentType is the coarse category assigned to a filing from its title.
type DocumentType string

const (
	// DocEarningsReport covers earnings summaries (kessan tanshin) and forecast revisions.
	DocEarningsReport DocumentType = "tanshin"
	// DocPresentation covers briefing material and supplementary decks.
	DocPresentation DocumentType = "presentation"
	// DocDividend covers dividend announcements and policy changes.
	DocDividend DocumentType = "dividend"
	// DocOtherImportant covers corrections, changes and other material notices.
	DocOtherImportant DocumentType = "other"
)

// DocumentTypes lists the recognized categories in classification order.
var DocumentTypes = []DocumentType{
	DocEarningsReport,
	DocPresentation,
	DocDividend,
	DocOtherImportant,
}

// FilingRow is one entry parsed from a listing page.
type FilingRow struct {
	Time        string `json:"time"`
	RawCode     string `json:"code"`
	CompanyName string `json:"company_name"`
	Title       string `json:"title"`
	DocumentURL string `json:"document_url"`
}

// AcceptedDocument is a filing that passed classification and the market gate.
type AcceptedDocument struct {
	FilingRow
	Code string       `json:"normalized_code"`
	Type DocumentType `json:"doc_type"`
}

// OutcomeStatus reports how a single fetch/upload attempt ended.
type OutcomeStatus string

const (
	OutcomeSuccess      OutcomeStatus = "success"
	OutcomeFetchFailed  OutcomeStatus = "fetch_failed"
	OutcomeUploadFailed OutcomeStatus = "upload_failed"
)

// DownloadOutcome is produced by a worker for every document it handles.
// StorageKey, URI, ByteCount and ContentHash are only populated on success.
type DownloadOutcome struct {
	Document    AcceptedDocument
	Status      OutcomeStatus
	StorageKey  string
	URI         string
	ByteCount   int64
	ContentHash string
	Err         error
}

// Succeeded reports whether the document reached durable storage.
func (o DownloadOutcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// ManifestDocument is one stored document listed under a company.
type ManifestDocument struct {
	Type        DocumentType `json:"type"`
	Title       string       `json:"title"`
	StorageKey  string       `json:"storage_key"`
	Time        string       `json:"time,omitempty"`
	ByteCount   int64        `json:"byte_count,omitempty"`
	ContentHash string       `json:"sha256,omitempty"`
}

// CompanyEntry groups the stored documents of one issuer.
type CompanyEntry struct {
	Code          string             `json:"code"`
	CompanyName   string             `json:"company_name"`
	Market        string             `json:"market,omitempty"`
	Sector        string             `json:"sector,omitempty"`
	SizeClass     string             `json:"size_class,omitempty"`
	DocumentCount int                `json:"document_count"`
	Documents     []ManifestDocument `json:"documents"`
}

// DayManifest is the single completion object written per ingested date.
type DayManifest struct {
	Date         string               `json:"date"`
	RunID        string               `json:"run_id,omitempty"`
	GeneratedAt  time.Time            `json:"generated_at"`
	TotalCount   int                  `json:"total_count"`
	CountsByType map[DocumentType]int `json:"counts_by_type"`
	Companies    []CompanyEntry       `json:"companies"`
}

// RunStatus is the terminal state reported for one date.
type RunStatus string

const (
	RunNotFound        RunStatus = "not_found"
	RunComplete        RunStatus = "complete"
	RunPartiallyFailed RunStatus = "partially_failed"
)

// RunCounts tallies what happened during a run.
type RunCounts struct {
	Pages          int `json:"pages"`
	Rows           int `json:"rows"`
	Unlinked       int `json:"unlinked"`
	Rejected       int `json:"rejected"`
	MarketExcluded int `json:"market_excluded"`
	Accepted       int `json:"accepted"`
	Succeeded      int `json:"succeeded"`
	FetchFailed    int `json:"fetch_failed"`
	UploadFailed   int `json:"upload_failed"`
	PageErrors     int `json:"page_errors"`
}

// Failures is the number of losses that make a run partial.
func (c RunCounts) Failures() int {
	return c.FetchFailed + c.UploadFailed + c.PageErrors
}

// Tally folds one outcome into the counters.
func (c *RunCounts) Tally(o DownloadOutcome) {
	switch o.Status {
	case OutcomeSuccess:
		c.Succeeded++
	case OutcomeFetchFailed:
		c.FetchFailed++
	case OutcomeUploadFailed:
		c.UploadFailed++
	}
}

// RunResult is returned to the caller of a date run.
type RunResult struct {
	RunID            string    `json:"run_id"`
	Date             string    `json:"date"`
	Status           RunStatus `json:"status"`
	Counts           RunCounts `json:"counts"`
	ManifestKey      string    `json:"manifest_key,omitempty"`
	RegistryDegraded bool      `json:"registry_degraded"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// DeriveStatus maps the counters of a crawled date onto a terminal status.
func DeriveStatus(c RunCounts) RunStatus {
	if c.Failures() > 0 {
		return RunPartiallyFailed
	}
	return RunComplete
}
