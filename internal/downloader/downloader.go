package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.trai.ch/zerr"
)

var (
	// ErrClient is returned when a fetch fails on the client side: the
	// request could not be sent or the server answered with a 4xx status.
	ErrClient = zerr.New("client error while fetching")

	// ErrServer is returned when the server answered with a 5xx status.
	ErrServer = zerr.New("server error while fetching")
)

// HTTPError reports a response with a non-200 status.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("downloading %s: HTTP %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *HTTPError) Unwrap() error {
	if e.StatusCode >= 500 {
		return ErrServer
	}
	return ErrClient
}

// Downloader fetches remote files over HTTP.
type Downloader struct {
	client   *http.Client
	progress io.Writer
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithTimeout bounds every fetch, body transfer included.
func WithTimeout(d time.Duration) Option {
	return func(dl *Downloader) {
		dl.client.Timeout = d
	}
}

// WithProgress renders a progress bar for each fetch on w.
func WithProgress(w io.Writer) Option {
	return func(dl *Downloader) {
		dl.progress = w
	}
}

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option {
	return func(dl *Downloader) {
		dl.client = c
	}
}

// NewDownloader creates a new downloader.
func NewDownloader(opts ...Option) *Downloader {
	d := &Downloader{client: &http.Client{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch downloads url into destPath. Anything already at destPath is
// replaced; on failure destPath is left untouched.
func (d *Downloader) Fetch(ctx context.Context, url, destPath string) error {
	// Ensure destination directory exists
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return zerr.Wrap(err, "creating directory")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &transportError{url: url, err: err}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &transportError{url: url, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}

	// Write to temp file first, then rename
	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return zerr.Wrap(err, "creating file")
	}

	var w io.Writer = out
	if d.progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(d.progress),
			progressbar.OptionSetDescription(filepath.Base(destPath)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		w = io.MultiWriter(out, bar)
	}

	_, err = io.Copy(w, resp.Body)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return &transportError{url: url, err: err}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return zerr.Wrap(err, "renaming file")
	}

	return nil
}

// transportError is a client-side failure below HTTP: DNS, connection,
// timeout or a body cut short.
type transportError struct {
	url string
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("downloading %s: %v", e.url, e.err)
}

func (e *transportError) Unwrap() []error { return []error{ErrClient, e.err} }
