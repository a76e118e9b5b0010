package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"famcal/internal/config"
	appLog "famcal/internal/log"
	"famcal/internal/model"
)

const icsFetchTimeout = 15 * time.Second

// ICSAdapter fetches one ICS subscription feed with HTTP caching
// (ETag / Last-Modified) and a disk-backed body cache, then parses the
// payload into raw events.
type ICSAdapter struct {
	src      config.SourceConfig
	cacheDir string
	window   Window
	client   *http.Client
}

// NewICSAdapter creates an adapter for an ICS feed. cacheDir is the base
// directory for per-URL cache entries (e.g. "<data_dir>/feed-cache").
func NewICSAdapter(src config.SourceConfig, cacheDir string, window Window) *ICSAdapter {
	return &ICSAdapter{
		src:      src,
		cacheDir: cacheDir,
		window:   window,
		client:   &http.Client{Timeout: icsFetchTimeout},
	}
}

func (a *ICSAdapter) SourceID() string { return a.src.ID }

func (a *ICSAdapter) Fetch(ctx context.Context) ([]model.RawEvent, int, error) {
	body, err := a.fetchBody(ctx)
	if err != nil {
		return nil, 0, err
	}
	return parseFeed(a.src, body, a.window)
}

// feedCacheMeta holds the HTTP cache metadata for one feed URL.
type feedCacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// fetchBody performs a conditional GET of the feed. On network errors or
// non-OK statuses a previously cached body is served instead, so a flaky
// feed degrades to slightly stale data rather than an empty source.
func (a *ICSAdapter) fetchBody(ctx context.Context) ([]byte, error) {
	if a.src.URL == "" {
		return nil, errors.New("source URL is empty")
	}

	dir := a.cacheEntryDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	meta := loadFeedMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.src.URL, nil)
	if err != nil {
		return nil, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("feed fetch network error, serving cached body", err,
				"source", a.src.ID, "url", redactURL(a.src.URL))
			return cached, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, readErr
		}
		a.saveCache(dir, feedCacheMeta{
			URL:          a.src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}, body)
		return body, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, errors.New("304 Not Modified but no cached body")
		}
		appLog.Debug("feed not modified, serving cache", "source", a.src.ID)
		return cached, nil

	default:
		if len(cached) > 0 {
			appLog.Error("feed fetch non-OK, serving cached body", errors.New(resp.Status),
				"source", a.src.ID, "status", resp.StatusCode)
			return cached, nil
		}
		return nil, errors.New(resp.Status)
	}
}

// cacheEntryDir keys the cache by a hash of the feed URL so rotated
// (tokenized) URLs get fresh entries.
func (a *ICSAdapter) cacheEntryDir() string {
	sum := sha256.Sum256([]byte(a.src.URL))
	return filepath.Join(a.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadFeedMeta(dir string) feedCacheMeta {
	var meta feedCacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return feedCacheMeta{}
	}
	return meta
}

func (a *ICSAdapter) saveCache(dir string, meta feedCacheMeta, body []byte) {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		appLog.Error("feed cache body write failed", err, "source", a.src.ID)
		return
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600); err != nil {
		appLog.Error("feed cache meta write failed", err, "source", a.src.ID)
	}
}

// redactURL hides paths and query strings of feed URLs in logs; private
// feed URLs routinely embed access tokens.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "feed://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/...(redacted)"
}
