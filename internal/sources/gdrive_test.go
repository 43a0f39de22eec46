package sources

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/fyrsmithlabs/ragdocs/internal/config"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
	"github.com/fyrsmithlabs/ragdocs/internal/extract"
)

// fakeDrive serves the subset of the Drive v3 REST API used by Drive.
func fakeDrive(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("q"), "'folder-1' in parents")
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"nextPageToken": "next",
				"files": []map[string]any{
					{"id": "doc1", "name": "Design doc", "mimeType": mimeGoogleDoc},
					{"id": "dir1", "name": "Folder", "mimeType": mimeFolder},
				},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"files": []map[string]any{
				{"id": "txt1", "name": "notes.txt", "mimeType": "text/plain", "size": "11"},
				{"id": "img1", "name": "logo.png", "mimeType": "image/png", "size": "10"},
				{"id": "big1", "name": "huge.txt", "mimeType": "text/plain", "size": "999999"},
			},
		})
	})
	mux.HandleFunc("/files/doc1/export", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/plain", r.URL.Query().Get("mimeType"))
		_, _ = w.Write([]byte("exported design"))
	})
	mux.HandleFunc("/files/img1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "media", r.URL.Query().Get("alt"))
		_, _ = w.Write([]byte("\x89PNG scan"))
	})
	mux.HandleFunc("/files/txt1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "media", r.URL.Query().Get("alt"))
		_, _ = w.Write([]byte("plain notes"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDrive_FetchAll(t *testing.T) {
	srv := fakeDrive(t)
	svc, err := drive.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)

	d := newDrive(svc, config.DriveConfig{FolderID: "folder-1", MaxFileSize: 1024}, nil)
	records, err := d.FetchAll(context.Background())
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, docstore.Record{
		Content: "exported design",
		Source:  docstore.SourceGoogleDrive,
		Title:   "Design doc",
		Type:    "file",
	}, records[0])
	assert.Equal(t, "plain notes", records[1].Content)
	assert.Equal(t, "notes.txt", records[1].Title)
}

func TestDrive_OCRImages(t *testing.T) {
	srv := fakeDrive(t)
	svc, err := drive.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)

	d := newDrive(svc, config.DriveConfig{FolderID: "folder-1", MaxFileSize: 1024, OCR: true, OCRLanguages: []string{"eng", "jpn"}}, nil)
	require.NotNil(t, d.ocr)

	var read []string
	d.ocr = func(_ context.Context, name string, r io.Reader, maxSize int64) (string, error) {
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "\x89PNG scan", string(data))
		assert.Equal(t, int64(1024), maxSize)
		read = append(read, name)
		return "INVOICE 2024-031", nil
	}

	records, err := d.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"logo.png"}, read)
	require.Len(t, records, 3)
	assert.Equal(t, "logo.png", records[2].Title)
	assert.Equal(t, "INVOICE 2024-031", records[2].Content)
	assert.Equal(t, docstore.SourceGoogleDrive, records[2].Source)
}

func TestDrive_ImagesSkippedWithoutOCR(t *testing.T) {
	d := newDrive(nil, config.DriveConfig{}, nil)
	assert.Nil(t, d.ocr)

	_, err := d.fileText(context.Background(), &drive.File{Id: "img1", Name: "logo.png", MimeType: "image/png", Size: 10})
	assert.ErrorIs(t, err, extract.ErrUnsupported)
}

func TestNewDrive_RejectsBadKey(t *testing.T) {
	_, err := NewDrive(context.Background(), config.DriveConfig{
		Enabled:         true,
		CredentialsJSON: config.Secret(`{"type":"authorized_user"}`),
		MaxFileSize:     1024,
	}, nil)
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "gdrive", cfgErr.Source)
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, retryAfter(nil))
	assert.Zero(t, retryAfter(h))
	h.Set("Retry-After", " 7 ")
	assert.Equal(t, 7*time.Second, retryAfter(h))
	h.Set("Retry-After", strings.Repeat("x", 3))
	assert.Zero(t, retryAfter(h))
}
