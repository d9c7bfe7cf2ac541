package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"snoograb/internal/core/domain"
	"snoograb/internal/core/ports"
)

const (
	// DefaultChunkSize matches the read size of the original grabber.
	DefaultChunkSize = 1024

	// DefaultTimeout is generous because videos can be large.
	DefaultTimeout = 30 * time.Minute
)

// HTTPDownloader implements ports.StreamFetcher using standard HTTP.
type HTTPDownloader struct {
	client    *http.Client
	chunkSize int
	userAgent string
	logger    hclog.Logger
}

var _ ports.StreamFetcher = (*HTTPDownloader)(nil)

// Option configures an HTTPDownloader.
type Option func(*HTTPDownloader)

// WithTimeout sets the whole-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *HTTPDownloader) {
		if timeout > 0 {
			d.client.Timeout = timeout
		}
	}
}

// WithChunkSize sets how many bytes are written between progress callbacks.
func WithChunkSize(size int) Option {
	return func(d *HTTPDownloader) {
		if size > 0 {
			d.chunkSize = size
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(userAgent string) Option {
	return func(d *HTTPDownloader) { d.userAgent = userAgent }
}

// WithLogger sets the logger.
func WithLogger(logger hclog.Logger) Option {
	return func(d *HTTPDownloader) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewHTTPDownloader creates a new HTTPDownloader.
func NewHTTPDownloader(opts ...Option) *HTTPDownloader {
	d := &HTTPDownloader{
		client:    &http.Client{Timeout: DefaultTimeout},
		chunkSize: DefaultChunkSize,
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download opens a streaming response for the given URL. The returned size is the
// declared Content-Length, or -1 when the server does not declare one.
func (d *HTTPDownloader) Download(ctx context.Context, mediaURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to download: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return resp.Body, resp.ContentLength, nil
}

// Fetch streams mediaURL into destination in fixed-size chunks, reporting the
// completed fraction after every chunk. The context is checked between chunks.
// On failure the partial file is left on disk for the caller to remove.
func (d *HTTPDownloader) Fetch(
	ctx context.Context,
	mediaURL string,
	destination string,
	onProgress ports.ProgressFunc,
) (int64, error) {
	fail := func(written int64, err error) (int64, error) {
		return written, &domain.TransportError{
			URL:          mediaURL,
			Path:         destination,
			BytesWritten: written,
			Err:          err,
		}
	}

	body, total, err := d.Download(ctx, mediaURL)
	if err != nil {
		return fail(0, err)
	}
	defer body.Close()

	file, err := os.Create(destination)
	if err != nil {
		return 0, &domain.FilesystemError{Op: "creating", Path: destination, Err: err}
	}
	defer file.Close()

	name := filepath.Base(destination)
	buf := make([]byte, d.chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return fail(written, err)
		}

		n, readErr := io.ReadFull(body, buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return written, &domain.FilesystemError{Op: "writing", Path: destination, Err: err}
			}
			written += int64(n)
			report(onProgress, name, written, total)
		}

		if readErr == io.EOF || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return fail(written, readErr)
		}
	}

	if total > 0 && written < total {
		return fail(written, fmt.Errorf("short body: %d of %d bytes: %w", written, total, io.ErrUnexpectedEOF))
	}

	if err := file.Sync(); err != nil {
		return written, &domain.FilesystemError{Op: "syncing", Path: destination, Err: err}
	}

	d.logger.Debug("download complete", "url", mediaURL, "path", destination, "bytes", written)
	return written, nil
}

func report(onProgress ports.ProgressFunc, name string, written, total int64) {
	if onProgress == nil {
		return
	}
	if total <= 0 {
		onProgress(domain.IndeterminateFraction, fmt.Sprintf("Downloading %s: %d bytes", name, written))
		return
	}

	fraction := float64(written) / float64(total)
	if fraction > 1 {
		fraction = 1
	}
	onProgress(fraction, fmt.Sprintf("Downloading %s: %.2f%%", name, fraction*100))
}
