// Package xkcd fetches comic metadata and images from the xkcd JSON API.
package xkcd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/xkcd-mirror/internal/comic"
	collyfetcher "github.com/JakeFAU/xkcd-mirror/internal/fetcher/colly"
)

// Fetcher performs a single GET.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (collyfetcher.Response, error)
}

// Limiter gates outgoing requests.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config configures the upstream client.
type Config struct {
	BaseURL     string
	ContentType string
}

// Client implements comic.Source against xkcd.com (or a compatible mirror).
type Client struct {
	fetcher     Fetcher
	blobs       comic.BlobStore
	limiter     Limiter
	baseURL     string
	contentType string
	logger      *zap.Logger
}

// info mirrors the subset of the upstream info.0.json document we keep.
type info struct {
	Num   int    `json:"num"`
	Title string `json:"title"`
	Alt   string `json:"alt"`
	Img   string `json:"img"`
}

// New builds a Client. limiter may be nil.
func New(cfg Config, fetcher Fetcher, blobs comic.BlobStore, limiter Limiter, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("base url is required")
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		fetcher:     fetcher,
		blobs:       blobs,
		limiter:     limiter,
		baseURL:     base,
		contentType: contentType,
		logger:      logger,
	}, nil
}

// InfoURL returns the metadata URL for number, or for the newest comic when
// number is comic.Latest.
func (c *Client) InfoURL(number int) string {
	if number == comic.Latest {
		return c.baseURL + "/info.0.json"
	}
	return fmt.Sprintf("%s/%d/info.0.json", c.baseURL, number)
}

// FetchComic retrieves one comic's metadata and stores its image. A non-2xx
// metadata response yields comic.ErrNotFound. Image failures are logged and
// do not fail the call.
func (c *Client) FetchComic(ctx context.Context, number int) (comic.Record, error) {
	url := c.InfoURL(number)
	resp, err := c.get(ctx, url)
	if err != nil {
		return comic.Record{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return comic.Record{}, fmt.Errorf("%s returned %d: %w", url, resp.StatusCode, comic.ErrNotFound)
	}

	var doc info
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return comic.Record{}, fmt.Errorf("decode %s: %w", url, err)
	}
	if doc.Num <= 0 {
		return comic.Record{}, fmt.Errorf("decode %s: missing comic number", url)
	}

	rec := comic.Record{
		Number:   doc.Num,
		FileName: comic.FileName(doc.Num),
		Title:    doc.Title,
		Caption:  doc.Alt,
	}
	c.saveImage(ctx, rec, doc.Img)
	return rec, nil
}

func (c *Client) saveImage(ctx context.Context, rec comic.Record, imgURL string) {
	logger := c.logger.With(zap.Int("comic", rec.Number), zap.String("image_url", imgURL))
	if imgURL == "" {
		logger.Warn("comic has no image url")
		return
	}
	resp, err := c.get(ctx, imgURL)
	if err != nil {
		logger.Warn("image download failed", zap.Error(err))
		return
	}
	if resp.StatusCode != http.StatusOK {
		logger.Warn("image download returned non-200", zap.Int("status", resp.StatusCode))
		return
	}
	if resp.Truncated {
		logger.Warn("image download incomplete, not stored", zap.Int("bytes", len(resp.Body)))
		return
	}
	uri, err := c.blobs.PutObject(ctx, rec.FileName, c.contentType, bytes.NewReader(resp.Body))
	if err != nil {
		logger.Warn("image store failed", zap.Error(err))
		return
	}
	logger.Debug("image stored", zap.String("uri", uri), zap.Int("bytes", len(resp.Body)))
}

func (c *Client) get(ctx context.Context, url string) (collyfetcher.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, url); err != nil {
			return collyfetcher.Response{}, err
		}
	}
	resp, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return collyfetcher.Response{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	return resp, nil
}
