// Package media downloads and downsizes product images for vision analysis.
// It is independent of the LLM gateway; failures are per-image and callers
// are expected to skip and continue.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// maxDownloadBytes caps how much of a remote image is read.
const maxDownloadBytes = 20 << 20

// Image is a pre-fetched image descriptor ready for a vision call.
type Image struct {
	SourceURL string `json:"source_url"`
	MIMEType  string `json:"mime_type"`
	Data      string `json:"data"` // base64-encoded JPEG payload
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// DataURI renders the image as an inline data URI for the provider payload.
func (i Image) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", i.MIMEType, i.Data)
}

// Options configures the fetcher.
type Options struct {
	// MaxEdge is the longest allowed edge after downscaling. Default: 1024.
	MaxEdge int
	// JPEGQuality for re-encoding. Default: 85.
	JPEGQuality int
	// Timeout per download. Default: 30s.
	Timeout time.Duration
	// HTTPClient overrides the default client (for testing).
	HTTPClient *http.Client
}

// Fetcher downloads, downsizes, and re-encodes product images.
type Fetcher struct {
	http    *http.Client
	maxEdge int
	quality int
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts Options) *Fetcher {
	if opts.MaxEdge <= 0 {
		opts.MaxEdge = 1024
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 85
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Fetcher{http: hc, maxEdge: opts.MaxEdge, quality: opts.JPEGQuality}
}

// Fetch downloads one image, downsizes it to fit MaxEdge, re-encodes it as
// JPEG, and base64-encodes the result.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "media: create request")
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "media: download image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("media: unexpected status %d for %s", resp.StatusCode, url)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, eris.Wrap(err, "media: read image body")
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, eris.Wrap(err, "media: decode image")
	}

	resized := f.downscale(src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: f.quality}); err != nil {
		return nil, eris.Wrap(err, "media: encode jpeg")
	}

	bounds := resized.Bounds()
	return &Image{
		SourceURL: url,
		MIMEType:  "image/jpeg",
		Data:      base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}, nil
}

// FetchAll downloads up to max images, skipping individual failures.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, max int) []Image {
	if max > 0 && len(urls) > max {
		urls = urls[:max]
	}

	out := make([]Image, 0, len(urls))
	for _, url := range urls {
		img, err := f.Fetch(ctx, url)
		if err != nil {
			zap.L().Warn("media: skipping image",
				zap.String("url", url),
				zap.Error(err),
			)
			continue
		}
		out = append(out, *img)
	}
	return out
}

func (f *Fetcher) downscale(src image.Image) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= f.maxEdge && h <= f.maxEdge {
		return src
	}

	scale := float64(f.maxEdge) / float64(w)
	if h > w {
		scale = float64(f.maxEdge) / float64(h)
	}
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
