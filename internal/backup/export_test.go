package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"main.py":               "print('hi')",
		"Dockerfile":            "FROM python:3.12-slim",
		"bot/handlers/start.py": "async def start(): ...",
		".env":                  "TELEGRAM_BOT_TOKEN=secret",
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	return dir
}

func TestExportToLocalStorageSkipsSecrets(t *testing.T) {
	ctx := context.Background()
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	key := ExportKey("projects/", "p-1", "echo_bot", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, "projects/p-1/echo_bot-20260102T030405Z.tar.gz", key)

	res, err := NewExporter(storage, ".env").Export(ctx, writeProject(t), key)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dockerfile", "bot/handlers/start.py", "main.py"}, res.Files)
	assert.Len(t, res.Checksum, 64)

	ok, err := storage.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	var buf bytes.Buffer
	require.NoError(t, storage.Download(ctx, key, &buf))
	assert.Equal(t, res.Size, int64(buf.Len()))

	files, err := readArchive(&buf)
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", files["main.py"])
	assert.NotContains(t, files, ".env")

	keys, err := storage.List(ctx, "projects/p-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	require.NoError(t, storage.Delete(ctx, key))
	ok, err = storage.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExportEmptyProjectFails(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = NewExporter(storage).Export(context.Background(), t.TempDir(), "x.tar.gz")
	assert.Error(t, err)
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	err = storage.Upload(context.Background(), "../outside.tar.gz", strings.NewReader("x"), 1)
	assert.Error(t, err)
}

// fakeS3 accepts path-style PUT and HEAD requests.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if _, ok := f.objects[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestS3StorageUploadsPathStyle(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	storage, err := NewS3Storage(ctx, S3Config{
		Bucket:          "bot-exports",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	assert.Equal(t, "s3", storage.Name())

	_, err = NewExporter(storage, ".env").Export(ctx, writeProject(t), "projects/p-1/bot.tar.gz")
	require.NoError(t, err)

	fake.mu.Lock()
	_, uploaded := fake.objects["/bot-exports/projects/p-1/bot.tar.gz"]
	fake.mu.Unlock()
	assert.True(t, uploaded)

	ok, err := storage.Exists(ctx, "projects/p-1/missing.tar.gz")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewS3StorageRequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), S3Config{})
	assert.Error(t, err)
}

func readArchive(r io.Reader) (map[string]string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	out := make(map[string]string)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		if _, err := io.Copy(&b, tr); err != nil {
			return nil, err
		}
		out[hdr.Name] = b.String()
	}
}
