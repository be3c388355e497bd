package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	appLog "smartsign/internal/log"
	"smartsign/internal/sheet"
)

// FetchResult reports where the workbook handed to the pipeline came from.
type FetchResult struct {
	Path      string
	Meta      Meta
	FromCache bool
}

// Fetcher downloads the workbook from a URL into a Store, honoring ETag and
// Last-Modified so an unchanged export is not downloaded again.
type Fetcher struct {
	client   *retryablehttp.Client
	store    *Store
	url      string
	maxBytes int64
}

// NewFetcher returns a Fetcher for rawURL. maxBytes caps the body size; zero
// means no limit.
func NewFetcher(store *Store, rawURL string, maxBytes int64) *Fetcher {
	client := retryablehttp.NewClient()
	client.Logger = log.New(io.Discard, "", 0)
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second

	return &Fetcher{
		client:   client,
		store:    store,
		url:      rawURL,
		maxBytes: maxBytes,
	}
}

// Fetch refreshes the stored workbook. When the request fails or the body is
// not a workbook with data rows, the previously stored workbook is returned
// with FromCache set and is left untouched.
func (f *Fetcher) Fetch(ctx context.Context) (FetchResult, error) {
	if f.url == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	cachedPath, meta, cacheErr := f.store.Latest()
	hasCache := cacheErr == nil
	sameURL := hasCache && meta.URL == f.url

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if sameURL {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("source fetch start", "url", redactURL(f.url))

	fallback := func(reason error) (FetchResult, error) {
		if !hasCache {
			return FetchResult{}, reason
		}
		appLog.Error("source fetch failed, using stored workbook", reason, "url", redactURL(f.url))
		return FetchResult{Path: cachedPath, Meta: meta, FromCache: true}, nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body io.Reader = resp.Body
		if f.maxBytes > 0 {
			body = io.LimitReader(resp.Body, f.maxBytes+1)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return fallback(err)
		}
		if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
			return fallback(fmt.Errorf("workbook exceeds %d bytes", f.maxBytes))
		}
		if err := checkWorkbook(data); err != nil {
			return fallback(err)
		}

		stored, err := f.store.SaveBytes(data, Meta{
			OriginalName: nameFromURL(f.url),
			URL:          f.url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		})
		if err != nil {
			return FetchResult{}, err
		}
		appLog.Info("source fetch success", "url", redactURL(f.url), "status", resp.StatusCode, "size", stored.Size)
		return FetchResult{Path: f.store.WorkbookPath(), Meta: stored}, nil

	case http.StatusNotModified:
		if !sameURL {
			return FetchResult{}, errors.New("received 304 Not Modified but no stored workbook")
		}
		appLog.Info("source not modified, using stored workbook", "url", redactURL(f.url))
		return FetchResult{Path: cachedPath, Meta: meta, FromCache: true}, nil

	default:
		return fallback(errors.New(resp.Status))
	}
}

// checkWorkbook rejects bodies that are not a readable workbook with at least
// one data row, such as a login page served with 200.
func checkWorkbook(data []byte) error {
	table, err := sheet.Read(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("response is not a workbook: %w", err)
	}
	if len(table.Rows) == 0 {
		return errors.New("response workbook has no data rows")
	}
	return nil
}

func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || u.Path == "/" {
		return workbookFile
	}
	return path.Base(u.Path)
}

// redactURL keeps only scheme and host; export links often embed tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
