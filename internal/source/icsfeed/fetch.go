// Package icsfeed pulls events from subscribed iCalendar feeds. Fetching
// honors ETag / Last-Modified with a disk-backed cache so unchanged feeds
// cost one conditional request, and falls back to the cached body when
// the network is down.
package icsfeed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "calsync/internal/log"
)

// Feed identifies a single ICS subscription.
type Feed struct {
	// ID is the config-level identifier for this feed.
	ID string
	// URL is the ICS endpoint.
	URL string
	// Zone is the IANA zone naive date-times in this feed are authored in.
	Zone string
}

// FetchResult is the outcome of fetching one feed.
type FetchResult struct {
	Feed      Feed
	Body      []byte
	FromCache bool
}

// cacheMeta holds the HTTP validators for one cached feed body.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher retrieves feed bodies with conditional requests backed by a
// per-URL disk cache.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir. An empty cacheDir
// falls back to a relative directory so development runs need no setup.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// FetchAll fetches every feed, collecting per-feed errors instead of
// aborting the batch. The result slice holds only feeds that produced a
// body, from network or cache.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []Feed) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(feeds))
	var errs []error
	for _, fd := range feeds {
		res, err := f.FetchOne(ctx, fd)
		if err != nil {
			errs = append(errs, err)
			appLog.Error("icsfeed: fetch failed", err, "id", fd.ID, "url", redactURL(fd.URL))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// FetchOne fetches a single feed, sending If-None-Match / If-Modified-Since
// from the cached validators and reusing the cached body on 304.
func (f *Fetcher) FetchOne(ctx context.Context, fd Feed) (FetchResult, error) {
	if fd.URL == "" {
		return FetchResult{}, errors.New("icsfeed: feed URL is empty")
	}

	cachePath := f.cachePath(fd.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := loadMeta(cachePath)
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fd.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Warn("icsfeed: network error, serving cached body", "id", fd.ID, "url", redactURL(fd.URL), "err", err)
			return FetchResult{Feed: fd, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, readErr
		}
		newMeta := cacheMeta{
			URL:          fd.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(cachePath, newMeta, body); err != nil {
			appLog.Error("icsfeed: cache save failed", err, "id", fd.ID, "url", redactURL(fd.URL))
		}
		appLog.Info("icsfeed: fetched", "id", fd.ID, "url", redactURL(fd.URL), "bytes", len(body))
		return FetchResult{Feed: fd, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("icsfeed: 304 Not Modified with no cached body")
		}
		appLog.Debug("icsfeed: not modified, serving cache", "id", fd.ID, "url", redactURL(fd.URL))
		return FetchResult{Feed: fd, Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Warn("icsfeed: non-OK status, serving cached body", "id", fd.ID, "url", redactURL(fd.URL), "status", resp.StatusCode)
			return FetchResult{Feed: fd, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, errors.New("icsfeed: " + resp.Status)
	}
}

// cachePath keys the cache by a hash of the URL so tokens embedded in
// feed URLs never appear on disk as file names.
func (f *Fetcher) cachePath(feedURL string) string {
	sum := sha256.Sum256([]byte(feedURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(cachePath string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheMeta, body []byte) error {
	// Body first, so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL strips path and query from a feed URL for logging; feed URLs
// often embed access tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
