package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemStore_PutGet(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileSystemStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "reports/org-1/2026-10.json", []byte(`{"ok":true}`), "application/json"))

	data, err := store.GetObject(ctx, "reports/org-1/2026-10.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	_, err = os.Stat(filepath.Join(root, "reports", "org-1", "2026-10.json"))
	assert.NoError(t, err)

	// Overwrite replaces content
	require.NoError(t, store.PutObject(ctx, "reports/org-1/2026-10.json", []byte(`{"ok":false}`), "application/json"))
	data, err = store.GetObject(ctx, "reports/org-1/2026-10.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false}`, string(data))
}

func TestFileSystemStore_Errors(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.GetObject(ctx, "missing.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	for _, key := range []string{"../escape.json", "/abs/path.json", "", "."} {
		assert.Error(t, store.PutObject(ctx, key, []byte("x"), "text/plain"), key)
	}

	assert.NoError(t, store.Ping(ctx))
}

func TestNewObjectStore(t *testing.T) {
	ctx := context.Background()

	store, err := NewObjectStore(ctx, DefaultConfig())
	require.NoError(t, err)
	assert.Nil(t, store)

	cfg := DefaultConfig()
	cfg.FilesystemRoot = t.TempDir()
	store, err = NewObjectStore(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &FileSystemStore{}, store)
}

// fakeS3 serves the small subset of the S3 REST API the client uses
type fakeS3 struct {
	mu       sync.Mutex
	requests []string
	objects  map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	io.Copy(io.Discard, r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	body, ok := f.objects[r.URL.Path]
	f.mu.Unlock()

	switch r.Method {
	case http.MethodPut, http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func setupS3Test(t *testing.T) (*S3Client, *fakeS3) {
	t.Helper()

	fake := &fakeS3{objects: map[string]string{
		"/reports-bucket/reports/org-1/2026-09.json": `{"tenant_id":"org-1"}`,
	}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.S3Endpoint = server.URL
	cfg.S3Bucket = "reports-bucket"
	cfg.S3AccessKey = "test"
	cfg.S3SecretKey = "test"
	cfg.S3UsePathStyle = true

	client, err := NewS3Client(context.Background(), cfg)
	require.NoError(t, err)
	return client, fake
}

func TestS3Client(t *testing.T) {
	client, fake := setupS3Test(t)
	ctx := context.Background()

	require.NoError(t, client.PutObject(ctx, "reports/org-1/2026-10.json", []byte(`{}`), "application/json"))

	data, err := client.GetObject(ctx, "reports/org-1/2026-09.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"tenant_id":"org-1"}`, string(data))

	_, err = client.GetObject(ctx, "reports/org-2/2026-09.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	assert.NoError(t, client.Ping(ctx))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.NotEmpty(t, fake.requests)
	assert.True(t, strings.HasPrefix(fake.requests[0], "PUT /reports-bucket/reports/org-1/2026-10.json"))
}
