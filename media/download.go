package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/use-agent/partharvest/config"
	"github.com/use-agent/partharvest/models"
	"golang.org/x/time/rate"
)

const fallbackUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Downloader fetches media files over plain HTTP GET and streams them to disk.
type Downloader struct {
	client     *resty.Client
	limiter    *rate.Limiter
	userAgents []string
	chunkSize  int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDownloader creates a downloader with a Chrome TLS fingerprint, the
// configured timeout and an optional requests-per-second cap.
func NewDownloader(cfg config.DownloadConfig, userAgents []string) *Downloader {
	return newDownloader(cfg, userAgents, newChromeTransport())
}

func newDownloader(cfg config.DownloadConfig, userAgents []string, transport http.RoundTripper) *Downloader {
	client := resty.New().
		SetTransport(transport).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "*/*")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = 1024
	}
	if len(userAgents) == 0 {
		userAgents = []string{fallbackUA}
	}

	return &Downloader{
		client:     client,
		limiter:    limiter,
		userAgents: userAgents,
		chunkSize:  chunk,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *Downloader) userAgent() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userAgents[d.rng.Intn(len(d.userAgents))]
}

// Download GETs url and writes the body to dest. Anything but HTTP 200 is a
// DOWNLOAD_FAILED error and leaves no file behind.
func (d *Downloader) Download(ctx context.Context, url, dest string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return models.NewHarvestError(models.ErrCodeInterrupted, "download throttle", err)
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("User-Agent", d.userAgent()).
		Get(url)
	if err != nil {
		return models.NewHarvestError(models.ErrCodeDownload, "request "+url, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return models.NewHarvestError(models.ErrCodeDownload, fmt.Sprintf("status %d for %s", resp.StatusCode(), url), nil)
	}

	n, err := d.stream(body, dest)
	if err != nil {
		return models.NewHarvestError(models.ErrCodeDownload, "write "+dest, err)
	}
	slog.Debug("media downloaded", "url", url, "path", dest, "bytes", n)
	return nil
}

// stream copies body into dest in fixed-size chunks through a temp file in
// the same directory, so dest is either complete or absent.
func (d *Downloader) stream(body io.Reader, dest string) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.CopyBuffer(tmp, body, make([]byte, d.chunkSize))
	if err != nil {
		tmp.Close()
		return n, err
	}
	// CreateTemp makes the file owner-only.
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), dest)
}
