// Package pipeline runs the per-date ingestion state machine: probe the
// date, walk its listing pages, filter rows, fetch and store accepted
// documents batch by batch, then write the day manifest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/tdnet-ingest/internal/classify"
	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
	"github.com/JakeFAU/tdnet-ingest/internal/dispatcher"
	"github.com/JakeFAU/tdnet-ingest/internal/listing"
	"github.com/JakeFAU/tdnet-ingest/internal/manifest"
	"github.com/JakeFAU/tdnet-ingest/internal/metrics"
	"github.com/JakeFAU/tdnet-ingest/internal/registry"
	"github.com/JakeFAU/tdnet-ingest/internal/telemetry"
)

// RegistryLoader produces the market registry for one run.
type RegistryLoader func() (*registry.Registry, error)

// Deps wires the Engine's collaborators. Publisher and Recorder are optional.
type Deps struct {
	Crawler      *listing.Crawler
	Classifier   *classify.Classifier
	LoadRegistry RegistryLoader
	Dispatcher   *dispatcher.Dispatcher
	Aggregator   *manifest.Aggregator
	Publisher    disclosure.Publisher
	Topic        string
	Recorder     disclosure.RunRecorder
	Clock        disclosure.Clock
	IDs          disclosure.IDGenerator
	Logger       *zap.Logger
}

// Engine ingests dates.
type Engine struct {
	deps   Deps
	logger *zap.Logger
}

// New validates deps and builds an Engine.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Crawler == nil:
		return nil, errors.New("pipeline: crawler is required")
	case deps.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("pipeline: dispatcher is required")
	case deps.Aggregator == nil:
		return nil, errors.New("pipeline: aggregator is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("pipeline: id generator is required")
	}
	if deps.LoadRegistry == nil {
		deps.LoadRegistry = func() (*registry.Registry, error) {
			return nil, fmt.Errorf("%w: no registry configured", disclosure.ErrRegistryUnavailable)
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{deps: deps, logger: logger}, nil
}

// RunForDate ingests a single date. A returned error means the run faulted
// and the date is not complete; every other outcome is in RunResult.Status.
func (e *Engine) RunForDate(ctx context.Context, date time.Time) (disclosure.RunResult, error) {
	runID, err := e.deps.IDs.NewID()
	if err != nil {
		return disclosure.RunResult{}, fmt.Errorf("new run id: %w", err)
	}
	ctx, span := telemetry.StartSpan(ctx, "tdnet.run",
		attribute.String("tdnet.run_id", runID),
		attribute.String("tdnet.date", disclosure.FormatDate(date)),
	)
	defer span.End()

	result, err := e.runForDate(ctx, runID, date)
	span.SetAttributes(
		attribute.String("tdnet.status", string(result.Status)),
		attribute.Int("tdnet.succeeded", result.Counts.Succeeded),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (e *Engine) runForDate(ctx context.Context, runID string, date time.Time) (disclosure.RunResult, error) {
	result := disclosure.RunResult{
		RunID:     runID,
		Date:      disclosure.FormatDate(date),
		StartedAt: e.deps.Clock.Now(),
	}
	logger := e.logger.With(zap.String("run_id", runID), zap.String("date", result.Date))

	availability, err := e.deps.Crawler.Probe(ctx, date)
	if err != nil {
		return result, fmt.Errorf("probe %s: %w", result.Date, err)
	}
	if availability == listing.NotFound {
		result.Status = disclosure.RunNotFound
		logger.Info("no listing published for date")
		e.finish(ctx, logger, &result)
		return result, nil
	}

	reg, err := e.deps.LoadRegistry()
	if err != nil {
		result.RegistryDegraded = true
		reg = nil
		logger.Warn("market registry unavailable, market filter disabled", zap.Error(err))
	}

	outcomes, err := e.crawl(ctx, logger, date, reg, &result.Counts)
	if err != nil {
		return result, err
	}

	key, m, err := e.deps.Aggregator.Write(ctx, date, runID, outcomes, reg)
	switch {
	case errors.Is(err, disclosure.ErrObjectExists):
		logger.Warn("manifest already present, date was completed by an earlier run", zap.String("manifest_key", key))
	case err != nil:
		return result, fmt.Errorf("aggregate %s: %w", result.Date, err)
	}
	if m.TotalCount != result.Counts.Succeeded {
		return result, fmt.Errorf("manifest total %d does not match %d stored documents", m.TotalCount, result.Counts.Succeeded)
	}
	result.ManifestKey = key
	result.Status = disclosure.DeriveStatus(result.Counts)
	e.finish(ctx, logger, &result)
	e.notify(ctx, logger, result, m)
	return result, nil
}

// crawl walks the listing pages. Each page's accepted documents are fully
// processed before the next page is fetched.
func (e *Engine) crawl(
	ctx context.Context,
	logger *zap.Logger,
	date time.Time,
	reg *registry.Registry,
	counts *disclosure.RunCounts,
) ([]disclosure.DownloadOutcome, error) {
	var outcomes []disclosure.DownloadOutcome
	stored := make(map[string]string)
	pages := e.deps.Crawler.Pages(date)
	for {
		page, ok := pages.Next(ctx)
		if !ok {
			break
		}
		counts.Pages++
		counts.Rows += len(page.Rows)
		counts.Unlinked += page.Unlinked

		accepted := e.filter(page.Rows, reg, counts)
		logger.Info("listing page filtered",
			zap.Int("page", page.Index),
			zap.Int("rows", len(page.Rows)),
			zap.Int("accepted", len(accepted)),
		)

		out, err := e.dispatch(ctx, date, page.Index, accepted)
		for _, o := range out {
			counts.Tally(o)
		}
		outcomes = append(outcomes, out...)
		warnReusedKeys(logger, stored, out)
		if err != nil {
			return outcomes, fmt.Errorf("process page %d: %w", page.Index, err)
		}
	}

	if err := pages.Err(); err != nil {
		if !errors.Is(err, listing.ErrPageFetch) {
			return outcomes, fmt.Errorf("crawl listing: %w", err)
		}
		counts.PageErrors++
		logger.Error("listing pagination aborted, keeping rows collected so far",
			zap.Int("pages", counts.Pages),
			zap.Error(err),
		)
	}
	return outcomes, nil
}

// warnReusedKeys logs every stored document whose key was already written
// earlier in the run. The later upload replaced the earlier object.
func warnReusedKeys(logger *zap.Logger, stored map[string]string, out []disclosure.DownloadOutcome) {
	for _, o := range out {
		if !o.Succeeded() {
			continue
		}
		if prev, ok := stored[o.StorageKey]; ok {
			logger.Warn("storage key reused within run, earlier document overwritten",
				zap.String("storage_key", o.StorageKey),
				zap.String("code", o.Document.Code),
				zap.String("title", o.Document.Title),
				zap.String("previous_url", prev),
				zap.String("url", o.Document.DocumentURL),
			)
			continue
		}
		stored[o.StorageKey] = o.Document.DocumentURL
	}
}

func (e *Engine) dispatch(
	ctx context.Context,
	date time.Time,
	index int,
	docs []disclosure.AcceptedDocument,
) ([]disclosure.DownloadOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "tdnet.page",
		attribute.Int("tdnet.page", index),
		attribute.Int("tdnet.accepted", len(docs)),
	)
	defer span.End()
	out, err := e.deps.Dispatcher.Run(ctx, date, docs)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.AddEvent("batches drained", trace.WithAttributes(attribute.Int("tdnet.outcomes", len(out))))
	return out, err
}

func (e *Engine) filter(
	rows []disclosure.FilingRow,
	reg *registry.Registry,
	counts *disclosure.RunCounts,
) []disclosure.AcceptedDocument {
	accepted := make([]disclosure.AcceptedDocument, 0, len(rows))
	var rejected, excluded int
	for _, row := range rows {
		doc, verdict := e.deps.Classifier.Evaluate(row, reg)
		switch verdict {
		case classify.Accepted:
			accepted = append(accepted, doc)
		case classify.Rejected:
			rejected++
		case classify.MarketExcluded:
			excluded++
		}
	}
	counts.Accepted += len(accepted)
	counts.Rejected += rejected
	counts.MarketExcluded += excluded
	metrics.ObserveRows(classify.Accepted.String(), len(accepted))
	metrics.ObserveRows(classify.Rejected.String(), rejected)
	metrics.ObserveRows(classify.MarketExcluded.String(), excluded)
	return accepted
}

// finish stamps the result, records it and logs the terminal line.
func (e *Engine) finish(ctx context.Context, logger *zap.Logger, result *disclosure.RunResult) {
	result.FinishedAt = e.deps.Clock.Now()
	metrics.ObserveRun(string(result.Status), result.FinishedAt.Sub(result.StartedAt))

	if e.deps.Recorder != nil {
		if err := e.deps.Recorder.RecordRun(ctx, *result); err != nil {
			logger.Error("record run failed", zap.Error(err))
		}
	}
	logger.Info("run finished",
		zap.String("status", string(result.Status)),
		zap.Int("accepted", result.Counts.Accepted),
		zap.Int("succeeded", result.Counts.Succeeded),
		zap.Int("fetch_failed", result.Counts.FetchFailed),
		zap.Int("upload_failed", result.Counts.UploadFailed),
		zap.Int("page_errors", result.Counts.PageErrors),
		zap.Bool("registry_degraded", result.RegistryDegraded),
	)
}

// notify publishes the completion message for a run that wrote a manifest.
func (e *Engine) notify(ctx context.Context, logger *zap.Logger, result disclosure.RunResult, m disclosure.DayManifest) {
	if e.deps.Publisher == nil || e.deps.Topic == "" {
		return
	}
	payload := map[string]any{
		"run_id":       result.RunID,
		"date":         result.Date,
		"status":       result.Status,
		"total_count":  m.TotalCount,
		"manifest_key": result.ManifestKey,
	}
	msgID, err := e.deps.Publisher.Publish(ctx, e.deps.Topic, payload)
	if err != nil {
		logger.Error("publish completion failed", zap.String("topic", e.deps.Topic), zap.Error(err))
		return
	}
	logger.Debug("completion published", zap.String("message_id", msgID))
}

// RunRange ingests every date from start to end inclusive, one at a time.
// It stops at the first faulted date.
func (e *Engine) RunRange(ctx context.Context, start, end time.Time) ([]disclosure.RunResult, error) {
	dates, err := disclosure.DateRange(start, end)
	if err != nil {
		return nil, err
	}
	results := make([]disclosure.RunResult, 0, len(dates))
	for _, d := range dates {
		res, err := e.RunForDate(ctx, d)
		if err != nil {
			return results, fmt.Errorf("run %s: %w", disclosure.FormatDate(d), err)
		}
		results = append(results, res)
	}
	return results, nil
}
