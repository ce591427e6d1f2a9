// Package manifest turns a run's download outcomes into the per-date
// manifest that marks the date as ingested.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
	"github.com/JakeFAU/tdnet-ingest/internal/registry"
)

const contentType = "application/json"

// Build groups the successful outcomes by company. Companies are ordered by
// code and documents keep the order in which they were listed.
func Build(
	date time.Time,
	runID string,
	generatedAt time.Time,
	outcomes []disclosure.DownloadOutcome,
	reg *registry.Registry,
) disclosure.DayManifest {
	m := disclosure.DayManifest{
		Date:         disclosure.FormatDate(date),
		RunID:        runID,
		GeneratedAt:  generatedAt,
		CountsByType: make(map[disclosure.DocumentType]int, len(disclosure.DocumentTypes)),
		Companies:    []disclosure.CompanyEntry{},
	}
	for _, t := range disclosure.DocumentTypes {
		m.CountsByType[t] = 0
	}

	byCode := make(map[string]*disclosure.CompanyEntry)
	for _, o := range outcomes {
		if !o.Succeeded() {
			continue
		}
		doc := o.Document
		entry, ok := byCode[doc.Code]
		if !ok {
			entry = &disclosure.CompanyEntry{Code: doc.Code, CompanyName: doc.CompanyName}
			if info, found := reg.Lookup(doc.Code); found {
				entry.Market = info.Market
				entry.Sector = info.Sector
				entry.SizeClass = info.SizeClass
				if entry.CompanyName == "" {
					entry.CompanyName = info.Name
				}
			}
			byCode[doc.Code] = entry
		}
		entry.Documents = append(entry.Documents, disclosure.ManifestDocument{
			Type:        doc.Type,
			Title:       doc.Title,
			StorageKey:  o.StorageKey,
			Time:        doc.Time,
			ByteCount:   o.ByteCount,
			ContentHash: o.ContentHash,
		})
		entry.DocumentCount++
		m.CountsByType[doc.Type]++
		m.TotalCount++
	}

	for _, entry := range byCode {
		m.Companies = append(m.Companies, *entry)
	}
	sort.Slice(m.Companies, func(i, j int) bool {
		return m.Companies[i].Code < m.Companies[j].Code
	})
	return m
}

// Aggregator writes day manifests to durable storage.
type Aggregator struct {
	store  disclosure.BlobStore
	keys   disclosure.KeyScheme
	clock  disclosure.Clock
	logger *zap.Logger
}

// New creates an Aggregator.
func New(
	store disclosure.BlobStore,
	keys disclosure.KeyScheme,
	clock disclosure.Clock,
	logger *zap.Logger,
) (*Aggregator, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, keys: keys, clock: clock, logger: logger}, nil
}

// Write builds the manifest for date and creates it under the manifest key.
// The object is never overwritten: if it already exists the returned error
// wraps disclosure.ErrObjectExists.
func (a *Aggregator) Write(
	ctx context.Context,
	date time.Time,
	runID string,
	outcomes []disclosure.DownloadOutcome,
	reg *registry.Registry,
) (string, disclosure.DayManifest, error) {
	key := a.keys.ManifestKey(date)
	m := Build(date, runID, a.clock.Now(), outcomes, reg)

	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return key, m, fmt.Errorf("encode manifest: %w", err)
	}
	uri, err := a.store.CreateObject(ctx, key, contentType, bytes.NewReader(body))
	if err != nil {
		return key, m, fmt.Errorf("write manifest %s: %w", key, err)
	}
	a.logger.Info("manifest written",
		zap.String("date", m.Date),
		zap.String("uri", uri),
		zap.Int("total_count", m.TotalCount),
		zap.Int("companies", len(m.Companies)),
	)
	return key, m, nil
}
