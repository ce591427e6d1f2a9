// Package worker downloads accepted documents and streams them to durable
// storage through a scoped temporary file.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
	"github.com/JakeFAU/tdnet-ingest/internal/hash/sha256"
	"github.com/JakeFAU/tdnet-ingest/internal/metrics"
)

const (
	defaultContentType  = "application/pdf"
	defaultFetchTimeout = 30 * time.Second
	tempPattern         = "tdnet-*.pdf"
)

// Acquirer gates each outbound request.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// HTTPDoer issues document GET requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config controls Worker behavior.
type Config struct {
	ContentType  string
	TempDir      string
	FetchTimeout time.Duration
	UserAgent    string
	Keys         disclosure.KeyScheme
}

// Worker fetches and uploads one document at a time. Each Worker owns its
// limiter; workers never share admission state.
type Worker struct {
	id      int
	limiter Acquirer
	client  HTTPDoer
	store   disclosure.BlobStore
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	id int,
	limiter Acquirer,
	client HTTPDoer,
	store disclosure.BlobStore,
	cfg Config,
	logger *zap.Logger,
) (*Worker, error) {
	if limiter == nil {
		return nil, fmt.Errorf("worker %d: limiter is required", id)
	}
	if client == nil {
		return nil, fmt.Errorf("worker %d: http client is required", id)
	}
	if store == nil {
		return nil, fmt.Errorf("worker %d: blob store is required", id)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	return &Worker{
		id:      id,
		limiter: limiter,
		client:  client,
		store:   store,
		cfg:     cfg,
		logger:  logger.With(zap.Int("worker", id)),
	}, nil
}

// ID returns the worker's index in its pool.
func (w *Worker) ID() int {
	return w.id
}

// Process downloads doc and uploads it under its deterministic key. Failures
// are logged and reported in the outcome; they are never retried.
func (w *Worker) Process(ctx context.Context, date time.Time, doc disclosure.AcceptedDocument) disclosure.DownloadOutcome {
	key := w.cfg.Keys.DocumentKey(date, doc)
	outcome := w.process(ctx, key, doc)
	metrics.ObserveDocument(string(doc.Type), string(outcome.Status), outcome.ByteCount)

	if outcome.Err != nil {
		w.logger.Warn("document not stored",
			zap.String("status", string(outcome.Status)),
			zap.String("code", doc.Code),
			zap.String("doc_type", string(doc.Type)),
			zap.String("title", doc.Title),
			zap.String("storage_key", key),
			zap.String("url", doc.DocumentURL),
			zap.Error(outcome.Err),
		)
		return outcome
	}
	w.logger.Debug("document stored",
		zap.String("code", doc.Code),
		zap.String("storage_key", key),
		zap.Int64("bytes", outcome.ByteCount),
	)
	return outcome
}

func (w *Worker) process(ctx context.Context, key string, doc disclosure.AcceptedDocument) disclosure.DownloadOutcome {
	outcome := disclosure.DownloadOutcome{Document: doc}
	fail := func(status disclosure.OutcomeStatus, err error) disclosure.DownloadOutcome {
		outcome.Status = status
		outcome.Err = err
		return outcome
	}

	if strings.TrimSpace(doc.DocumentURL) == "" {
		return fail(disclosure.OutcomeFetchFailed, errors.New("document has no url"))
	}
	if err := w.limiter.Acquire(ctx); err != nil {
		return fail(disclosure.OutcomeFetchFailed, fmt.Errorf("acquire rate limit: %w", err))
	}

	tmp, err := os.CreateTemp(w.cfg.TempDir, tempPattern)
	if err != nil {
		return fail(disclosure.OutcomeFetchFailed, fmt.Errorf("create temp file: %w", err))
	}
	defer w.release(tmp)

	digest := sha256.New()
	n, err := w.download(ctx, doc.DocumentURL, io.MultiWriter(tmp, digest))
	if err != nil {
		return fail(disclosure.OutcomeFetchFailed, err)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fail(disclosure.OutcomeUploadFailed, fmt.Errorf("rewind temp file: %w", err))
	}
	uri, err := w.store.PutObject(ctx, key, w.cfg.ContentType, tmp)
	if err != nil {
		return fail(disclosure.OutcomeUploadFailed, fmt.Errorf("put object: %w", err))
	}

	outcome.Status = disclosure.OutcomeSuccess
	outcome.StorageKey = key
	outcome.URI = uri
	outcome.ByteCount = n
	outcome.ContentHash = digest.Hex()
	return outcome
}

// download streams the body of url into dst within the fetch timeout.
func (w *Worker) download(ctx context.Context, url string, dst io.Writer) (int64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if w.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", w.cfg.UserAgent)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("get document: unexpected status %d", resp.StatusCode)
	}
	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read document body: %w", err)
	}
	return n, nil
}

// release closes and deletes the temp file. It runs on every exit path,
// panics included.
func (w *Worker) release(f *os.File) {
	name := f.Name()
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		w.logger.Warn("close temp file failed", zap.String("path", name), zap.Error(err))
	}
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Error("remove temp file failed", zap.String("path", name), zap.Error(err))
	}
}
