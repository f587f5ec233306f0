package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// newTestStore creates a ContentStore pointed at a test server.
func newTestStore(t *testing.T, handler http.Handler) *ContentStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "test-bucket", Prefix: "source/"})
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestContentStorePut(t *testing.T) {
	payload := []byte("%PDF-1.4 payload")
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "source/order.pdf", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), string(payload))

		fmt.Fprintln(w, `{ "name": "source/order.pdf" }`)
	})

	store := newTestStore(t, handler)
	require.NoError(t, store.Put(context.Background(), "order.pdf", bytes.NewReader(payload)))
}

func TestContentStorePutError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store := newTestStore(t, handler)
	assert.Error(t, store.Put(context.Background(), "order.pdf", bytes.NewReader([]byte("x"))))
}

func TestContentStoreExists(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "present.pdf") {
			fmt.Fprintln(w, `{ "name": "source/present.pdf", "bucket": "test-bucket", "size": "3" }`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{ "error": { "code": 404, "message": "No such object" } }`)
	})

	store := newTestStore(t, handler)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "present.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "absent.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	s := &ContentStore{prefix: "source"}
	got, err := s.objectName("a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "source/a.pdf", got)

	_, err = s.objectName(" ")
	assert.Error(t, err)
}
