// Package imagegen saves the artifacts of finished generations to disk.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"devoid_client/messages"

	"go.uber.org/zap"
)

// Errors returned by SaveResult.
var (
	ErrNoResult           = errors.New("imagegen: response has no result content")
	ErrUnsupportedContent = errors.New("imagegen: result content is not an http(s) URL")
)

const partialSuffix = ".part"

// DownloaderConfig configures New.
type DownloaderConfig struct {
	Dir string

	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client

	// Timeout per download. Default 30s.
	Timeout time.Duration

	Logger *zap.Logger
}

// Downloader fetches result URLs into Dir.
type Downloader struct {
	client *http.Client
	dir    string
	logger *zap.Logger
}

// DownloadResult describes a saved file.
type DownloadResult struct {
	Path        string
	Size        int64
	ContentType string
}

// New creates Dir if needed.
func New(cfg DownloaderConfig) (*Downloader, error) {
	if cfg.Dir == "" {
		cfg.Dir = "gens"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("imagegen: failed to create downloads directory: %w", err)
	}
	return &Downloader{client: client, dir: cfg.Dir, logger: cfg.Logger}, nil
}

// Dir returns the downloads directory.
func (d *Downloader) Dir() string {
	return d.dir
}

// HandleDone is an events.ResponseHandler for done responses.
func (d *Downloader) HandleDone(ctx context.Context, resp *messages.Response) error {
	res, err := d.SaveResult(ctx, resp)
	if err != nil {
		return err
	}
	d.logger.Info("Saved generation result",
		zap.String("object_id", resp.ObjectID),
		zap.String("user_id", resp.UserID()),
		zap.String("path", res.Path),
		zap.Int64("bytes", res.Size),
	)
	return nil
}

// SaveResult downloads resp.Result.Content. The file is named after
// Result.FileName, else the last URL path segment, else the object id.
func (d *Downloader) SaveResult(ctx context.Context, resp *messages.Response) (*DownloadResult, error) {
	if resp.Result == nil || resp.Result.Content == "" {
		return nil, ErrNoResult
	}
	u, err := url.Parse(resp.Result.Content)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ErrUnsupportedContent
	}
	name := resultFileName(resp, u)
	return d.Download(ctx, u.String(), name)
}

// Download fetches rawURL into the downloads directory as filename. The
// body is written to a partial file and renamed once complete.
func (d *Downloader) Download(ctx context.Context, rawURL, filename string) (*DownloadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("imagegen: failed to create download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagegen: failed to download result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imagegen: download failed with status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	name := sanitizeFilename(filename)
	if filepath.Ext(name) == "" {
		name += extensionFromContentType(contentType)
	}
	target := filepath.Join(d.dir, name)

	tmp, err := os.CreateTemp(d.dir, name+".*"+partialSuffix)
	if err != nil {
		return nil, fmt.Errorf("imagegen: failed to create file: %w", err)
	}
	size, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("imagegen: failed to write result: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("imagegen: failed to finalize result: %w", err)
	}

	return &DownloadResult{Path: target, Size: size, ContentType: contentType}, nil
}

// RemovePartial deletes leftover partial files. It is registered as a
// shutdown stage.
func (d *Downloader) RemovePartial(ctx context.Context) error {
	matches, err := filepath.Glob(filepath.Join(d.dir, "*"+partialSuffix))
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		if ctx.Err() != nil {
			break
		}
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(matches) > 0 {
		d.logger.Debug("Removed partial downloads", zap.Int("count", len(matches)))
	}
	return errors.Join(errs...)
}

func resultFileName(resp *messages.Response, u *url.URL) string {
	if resp.Result.FileName != "" {
		return resp.Result.FileName
	}
	if base := path.Base(u.Path); base != "/" && base != "." && base != "" {
		return base
	}
	if resp.ObjectID != "" {
		return resp.ObjectID
	}
	return "result"
}

func extensionFromContentType(contentType string) string {
	lower := strings.ToLower(contentType)
	if idx := strings.Index(lower, ";"); idx != -1 {
		lower = lower[:idx]
	}
	switch strings.TrimSpace(lower) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

// maxFilenameBytes keeps names under common filesystem limits.
const maxFilenameBytes = 200

func sanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_",
		"\n", "_", "\r", "_", "\t", "_",
	)
	result := replacer.Replace(filename)
	result = strings.TrimLeft(result, ".")
	if len(result) > maxFilenameBytes {
		cut := maxFilenameBytes
		for cut > 0 && !utf8.RuneStart(result[cut]) {
			cut--
		}
		result = result[:cut]
	}
	if result == "" {
		result = "result"
	}
	return result
}
