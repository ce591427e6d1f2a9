package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
)

const testBucket = "tdnet-bucket"

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: testBucket})
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: testBucket})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsBody(t *testing.T) {
	t.Parallel()

	key := "tdnet_pdfs/2024/01/05/7203_決算短信.pdf"
	var sawBody atomic.Bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", testBucket)) {
			http.Error(w, "unexpected path", http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("ifGenerationMatch") != "" {
			http.Error(w, "unexpected precondition", http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		sawBody.Store(strings.Contains(string(body), "%PDF-1.4"))
		fmt.Fprintf(w, `{"name": %q, "bucket": %q}`, key, testBucket)
	})

	store := newTestStore(t, handler)
	uri, err := store.PutObject(context.Background(), key, "application/pdf", strings.NewReader("%PDF-1.4 body"))
	require.NoError(t, err)
	require.Equal(t, "gs://"+testBucket+"/"+key, uri)
	require.True(t, sawBody.Load())
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := store.PutObject(context.Background(), "a/b.pdf", "application/pdf", strings.NewReader("x"))
	require.Error(t, err)
}

func TestPutObjectEmptyKey(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), " ", "application/pdf", strings.NewReader("x"))
	require.Error(t, err)
}

func TestCreateObjectSendsPrecondition(t *testing.T) {
	t.Parallel()

	var gen atomic.Value
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gen.Store(r.URL.Query().Get("ifGenerationMatch"))
		_, _ = io.Copy(io.Discard, r.Body)
		fmt.Fprintf(w, `{"name": "m.json", "bucket": %q}`, testBucket)
	}))

	uri, err := store.CreateObject(context.Background(), "m.json", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	require.Equal(t, "gs://"+testBucket+"/m.json", uri)
	require.Equal(t, "0", gen.Load())
}

func TestCreateObjectExisting(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		_, _ = w.Write([]byte(`{"error": {"code": 412, "message": "At least one of the pre-conditions you specified did not hold."}}`))
	}))

	_, err := store.CreateObject(context.Background(), "m.json", "application/json", strings.NewReader("{}"))
	require.ErrorIs(t, err, disclosure.ErrObjectExists)
}
