// Package dispatcher fans accepted documents out to the worker pool one
// batch at a time.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
	"github.com/JakeFAU/tdnet-ingest/internal/metrics"
)

// DefaultBatchSize is used when no batch size is configured.
const DefaultBatchSize = 50

// Processor handles a single accepted document.
type Processor interface {
	Process(ctx context.Context, date time.Time, doc disclosure.AcceptedDocument) disclosure.DownloadOutcome
}

// Dispatcher drives a fixed pool of processors. Batch N+1 never starts before
// every document of batch N has an outcome.
type Dispatcher struct {
	workers   []Processor
	batchSize int
	logger    *zap.Logger
}

// New creates a Dispatcher over workers.
func New(workers []Processor, batchSize int, logger *zap.Logger) (*Dispatcher, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("at least one worker is required")
	}
	for i, w := range workers {
		if w == nil {
			return nil, fmt.Errorf("worker %d is nil", i)
		}
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		workers:   workers,
		batchSize: batchSize,
		logger:    logger,
	}, nil
}

// Partition splits docs into consecutive batches of at most size documents.
func Partition(docs []disclosure.AcceptedDocument, size int) [][]disclosure.AcceptedDocument {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]disclosure.AcceptedDocument, 0, (len(docs)+size-1)/size)
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		batches = append(batches, docs[start:end])
	}
	return batches
}

// Run processes docs batch by batch. On cancellation it stops at the next
// document boundary and returns the outcomes gathered so far with the error.
func (d *Dispatcher) Run(
	ctx context.Context,
	date time.Time,
	docs []disclosure.AcceptedDocument,
) ([]disclosure.DownloadOutcome, error) {
	outcomes := make([]disclosure.DownloadOutcome, 0, len(docs))
	batches := Partition(docs, d.batchSize)
	for i, batch := range batches {
		out, err := d.RunBatch(ctx, date, batch)
		outcomes = append(outcomes, out...)
		if err != nil {
			return outcomes, fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
		}
		d.logger.Debug("batch drained",
			zap.Int("batch", i+1),
			zap.Int("batches", len(batches)),
			zap.Int("size", len(batch)),
		)
	}
	return outcomes, nil
}

// RunBatch dispatches every member of batch concurrently across the pool and
// waits for all of them. Outcomes are returned in batch order.
func (d *Dispatcher) RunBatch(
	ctx context.Context,
	date time.Time,
	batch []disclosure.AcceptedDocument,
) ([]disclosure.DownloadOutcome, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	jobs := make(chan int, len(batch))
	for i := range batch {
		jobs <- i
	}
	close(jobs)

	results := make([]disclosure.DownloadOutcome, len(batch))
	done := make([]bool, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers[:min(len(d.workers), len(batch))] {
		g.Go(func() error {
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			for i := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = w.Process(gctx, date, batch[i])
				done[i] = true
			}
			return nil
		})
	}
	err := g.Wait()

	outcomes := make([]disclosure.DownloadOutcome, 0, len(batch))
	for i, ok := range done {
		if ok {
			outcomes = append(outcomes, results[i])
		}
	}
	if err != nil {
		return outcomes, fmt.Errorf("run batch: %w", err)
	}
	return outcomes, nil
}
