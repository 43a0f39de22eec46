package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/fyrsmithlabs/ragdocs/internal/config"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
	"github.com/fyrsmithlabs/ragdocs/internal/extract"
)

// Google Workspace MIME types, exported rather than downloaded.
const (
	mimeGoogleDoc    = "application/vnd.google-apps.document"
	mimeGoogleSheet  = "application/vnd.google-apps.spreadsheet"
	mimeGoogleSlides = "application/vnd.google-apps.presentation"
	mimeFolder       = "application/vnd.google-apps.folder"
)

const (
	driveListPageSize = 100
	driveMaxRetries   = 3
)

var driveExports = map[string]string{
	mimeGoogleDoc:    "text/plain",
	mimeGoogleSheet:  "text/csv",
	mimeGoogleSlides: "text/plain",
}

// Drive fetches the files visible to a service account, optionally limited
// to one folder.
type Drive struct {
	svc      *drive.Service
	folderID string
	maxSize  int64
	limiter  *RateLimiter
	logger   *zap.Logger
	limit    int

	// ocr reads image files; nil skips them.
	ocr func(ctx context.Context, name string, r io.Reader, maxSize int64) (string, error)
}

// NewDrive authenticates with the configured service account key.
func NewDrive(ctx context.Context, cfg config.DriveConfig, logger *zap.Logger) (*Drive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key := []byte(cfg.CredentialsJSON.Value())
	if cfg.CredentialsFile != "" {
		var err error
		if key, err = os.ReadFile(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("reading drive credentials: %w", err)
		}
	}
	jwt, err := google.JWTConfigFromJSON(key, drive.DriveReadonlyScope)
	if err != nil {
		return nil, &config.ConfigError{Source: "gdrive", Field: "credentials", Reason: err.Error()}
	}
	svc, err := drive.NewService(ctx, option.WithTokenSource(jwt.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return newDrive(svc, cfg, logger), nil
}

func newDrive(svc *drive.Service, cfg config.DriveConfig, logger *zap.Logger) *Drive {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = 5 << 20
	}
	d := &Drive{
		svc:      svc,
		folderID: cfg.FolderID,
		maxSize:  maxSize,
		limiter:  NewRateLimiter(cfg.RequestsPerSecond, 5),
		logger:   logger,
	}
	if cfg.OCR {
		langs := cfg.OCRLanguages
		d.ocr = func(ctx context.Context, name string, r io.Reader, maxSize int64) (string, error) {
			return extract.Image(ctx, name, r, maxSize, langs...)
		}
	}
	return d
}

// Name implements DocumentSource.
func (d *Drive) Name() string { return "gdrive" }

// Origin implements DocumentSource.
func (d *Drive) Origin() string { return docstore.SourceGoogleDrive }

// FetchAll implements DocumentSource. Files that cannot be read or have no
// extractor are skipped and logged. With a limit set, listing and downloads
// stop once that many files were read.
func (d *Drive) FetchAll(ctx context.Context) ([]docstore.Record, error) {
	query := "trashed = false"
	if d.folderID != "" {
		query = fmt.Sprintf("'%s' in parents and %s", d.folderID, query)
	}

	var (
		records []docstore.Record
		token   string
	)
files:
	for {
		var list *drive.FileList
		err := d.call(ctx, func() (err error) {
			list, err = d.svc.Files.List().
				Q(query).
				PageSize(driveListPageSize).
				PageToken(token).
				Fields("nextPageToken, files(id, name, mimeType, size)").
				Context(ctx).
				Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("listing drive files: %w", err)
		}

		for _, f := range list.Files {
			if f.MimeType == mimeFolder {
				continue
			}
			text, err := d.fileText(ctx, f)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				d.logger.Warn("skipping drive file",
					zap.String("file_id", f.Id),
					zap.String("name", f.Name),
					zap.Error(err),
				)
				continue
			}
			records = append(records, docstore.Record{
				Content: text,
				Source:  docstore.SourceGoogleDrive,
				Title:   f.Name,
				Type:    "file",
			})
			if d.limit > 0 && len(records) >= d.limit {
				break files
			}
		}

		if list.NextPageToken == "" {
			break
		}
		token = list.NextPageToken
	}
	d.logger.Debug("fetched drive files", zap.Int("count", len(records)))
	return records, nil
}

func (d *Drive) fileText(ctx context.Context, f *drive.File) (string, error) {
	if exportMime, ok := driveExports[f.MimeType]; ok {
		return d.download(ctx, func() (*http.Response, error) {
			return d.svc.Files.Export(f.Id, exportMime).Context(ctx).Download()
		}, func(r io.Reader) (string, error) {
			return extract.Text(ctx, exportMime, f.Name, r, d.maxSize)
		})
	}

	read := func(r io.Reader) (string, error) {
		return extract.Text(ctx, f.MimeType, f.Name, r, d.maxSize)
	}
	switch {
	case d.ocr != nil && extract.IsImage(f.MimeType, f.Name):
		read = func(r io.Reader) (string, error) {
			return d.ocr(ctx, f.Name, r, d.maxSize)
		}
	case !extract.Supported(f.MimeType, f.Name):
		return "", fmt.Errorf("%w: %s", extract.ErrUnsupported, f.MimeType)
	}
	if f.Size > d.maxSize {
		return "", fmt.Errorf("%w: %d bytes", extract.ErrTooLarge, f.Size)
	}
	return d.download(ctx, func() (*http.Response, error) {
		return d.svc.Files.Get(f.Id).Context(ctx).Download()
	}, read)
}

func (d *Drive) download(ctx context.Context, get func() (*http.Response, error), read func(io.Reader) (string, error)) (string, error) {
	var resp *http.Response
	err := d.call(ctx, func() (err error) {
		resp, err = get()
		return err
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return read(resp.Body)
}

// call runs fn under the rate limiter, honouring 429 Retry-After.
func (d *Drive) call(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn()
		var apiErr *googleapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests {
			return err
		}
		if attempt >= driveMaxRetries {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		d.logger.Warn("drive rate limited, backing off", zap.Int("attempt", attempt+1))
		d.limiter.Backoff(retryAfter(apiErr.Header))
	}
}

func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
