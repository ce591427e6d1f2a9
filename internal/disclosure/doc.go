// Package disclosure holds the domain types shared by every stage of the daily
// disclosure ingestion pipeline: listing rows, classified documents, download
// outcomes, the per-date manifest and the run result handed back to callers.
//
// The package also declares the narrow collaborator contracts (blob storage,
// clock, ID generation, notification, run ledger) so that stage packages depend
// on interfaces rather than on concrete backends.
package disclosure
