package extract

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/use-agent/partharvest/media"
	"github.com/use-agent/partharvest/scraper"
)

// Downloader saves a remote file to a local path.
type Downloader interface {
	Download(ctx context.Context, url, dest string) error
}

// mediaSet holds the image and drawing lists of one record.
type mediaSet struct {
	ImageURLs    []string
	ImagePaths   []string
	DrawingURLs  []string
	DrawingPaths []string
}

func newMediaSet() mediaSet {
	return mediaSet{
		ImageURLs:    []string{},
		ImagePaths:   []string{},
		DrawingURLs:  []string{},
		DrawingPaths: []string{},
	}
}

// mediaCollector numbers and downloads media for one identifier. The index
// is shared across every batch it collects and advances for each new URL,
// whether or not its download succeeds.
type mediaCollector struct {
	dl         Downloader
	dir        string
	origin     string
	identifier string
	index      int
	seen       map[string]bool
	log        *slog.Logger
}

func newMediaCollector(dl Downloader, dir, origin, identifier string, log *slog.Logger) *mediaCollector {
	return &mediaCollector{
		dl:         dl,
		dir:        dir,
		origin:     origin,
		identifier: identifier,
		seen:       make(map[string]bool),
		log:        log,
	}
}

// collect absolutizes srcs, skips URLs already collected and downloads the
// rest. urls lists every new URL; paths only the successful downloads.
func (c *mediaCollector) collect(ctx context.Context, srcs []string) (urls, paths []string) {
	urls, paths = []string{}, []string{}
	for _, src := range srcs {
		full := scraper.AbsoluteURL(c.origin, src)
		if full == "" || c.seen[full] {
			continue
		}
		c.seen[full] = true
		urls = append(urls, full)

		dest := filepath.Join(c.dir, media.ImageName(c.identifier, c.index, full))
		c.index++
		if err := c.dl.Download(ctx, full, dest); err != nil {
			c.log.Warn("media download failed", "url", full, "error", err)
			continue
		}
		paths = append(paths, dest)
	}
	return urls, paths
}
