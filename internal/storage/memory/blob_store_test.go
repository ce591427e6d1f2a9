package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/doc.pdf", "application/pdf", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://path/doc.pdf", uri)

	payload[0] = 'C'
	obj, ok := store.Get("path/doc.pdf")
	require.True(t, ok)
	require.Equal(t, "content", string(obj.Data))
	require.Equal(t, "application/pdf", obj.ContentType)

	obj.Data[0] = 'X'
	again, _ := store.Get("path/doc.pdf")
	require.Equal(t, "content", string(again.Data))
}

func TestBlobStoreCreateObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.CreateObject(context.Background(), "m.json", "application/json", strings.NewReader("1"))
	require.NoError(t, err)
	_, err = store.CreateObject(context.Background(), "m.json", "application/json", strings.NewReader("2"))
	require.ErrorIs(t, err, disclosure.ErrObjectExists)

	obj, _ := store.Get("m.json")
	require.Equal(t, "1", string(obj.Data))
}

func TestBlobStoreKeysSorted(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, k := range []string{"b", "c", "a"} {
		_, err := store.PutObject(context.Background(), k, "", strings.NewReader(k))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a", "b", "c"}, store.Keys())

	_, ok := store.Get("missing")
	require.False(t, ok)
}
