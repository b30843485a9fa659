package pac

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/transform"

	"github.com/yolkispalkis/nwutil/pkg/weburl"
)

const (
	DefaultMaxScriptSize = 1 * 1024 * 1024
	defaultFetchTimeout  = 10 * time.Second
	defaultUserAgent     = "nwutil/PAC-Fetch"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var (
	ErrScriptTooLarge      = errors.New("PAC script exceeds maximum size")
	ErrEmptyScript         = errors.New("PAC script is empty")
	ErrUnsupportedLocation = errors.New("unsupported PAC location")
)

// FetcherOptions configures a Fetcher. The zero value is usable.
type FetcherOptions struct {
	// Timeout bounds a single download. Defaults to 10s.
	Timeout time.Duration
	// MaxSize is the largest accepted script in bytes. Defaults to 1 MiB.
	MaxSize int64
	// Charset overrides the charset announced by the server.
	Charset string
	// CacheTTL keeps fetched scripts for this long; zero disables caching.
	CacheTTL time.Duration
	// Client replaces the default direct (proxy-less) HTTP client.
	Client    *http.Client
	UserAgent string
}

type cachedScript struct {
	script       string
	lastModified string
	expiry       time.Time
}

var errNotModified = errors.New("PAC script not modified")

// Fetcher retrieves PAC scripts over http(s) or from the local filesystem.
// Concurrent fetches of one location share a single download.
type Fetcher struct {
	opts   FetcherOptions
	client *http.Client
	group  singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedScript
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFetchTimeout
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxScriptSize
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy: nil, // the PAC script itself is always fetched directly
				DialContext: (&net.Dialer{
					Timeout:   opts.Timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          5,
				IdleConnTimeout:       60 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		}
	}

	return &Fetcher{
		opts:   opts,
		client: client,
		cache:  make(map[string]cachedScript),
	}
}

// Close releases idle connections of the default client.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}

// Fetch returns the decoded script at location, which may be an http(s) URL,
// a file URL or a plain filesystem path. It returns when ctx is done even if
// a shared download is still in flight.
//
// With caching enabled an expired script is revalidated with
// If-Modified-Since (or the file's mtime), and kept if the refresh fails.
func (f *Fetcher) Fetch(ctx context.Context, location string) (string, error) {
	location = strings.TrimSpace(location)
	stale, fresh := f.lookup(location)
	if fresh {
		slog.Debug("Using cached PAC script", "location", location)
		return stale.script, nil
	}

	// The download is shared, so it must not die with the first caller.
	shared := context.WithoutCancel(ctx)
	ch := f.group.DoChan(location, func() (interface{}, error) {
		return f.refresh(shared, location, stale)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("fetching PAC script %s: %w", location, ctx.Err())
	}
}

func (f *Fetcher) refresh(ctx context.Context, location string, stale *cachedScript) (string, error) {
	var lastModified string
	if stale != nil {
		lastModified = stale.lastModified
	}
	script, modified, err := f.fetch(ctx, location, lastModified)
	switch {
	case errors.Is(err, errNotModified) && stale != nil:
		slog.Debug("PAC script not modified, reusing cached copy", "location", location)
		f.store(location, stale.script, stale.lastModified)
		return stale.script, nil
	case err != nil && stale != nil:
		slog.Warn("Failed to refresh PAC script, keeping previous version", "location", location, "error", err)
		return stale.script, nil
	case err != nil:
		return "", err
	}
	f.store(location, script, modified)
	return script, nil
}

// lookup returns the cache entry for location, if any, and whether it is
// still fresh.
func (f *Fetcher) lookup(location string) (*cachedScript, bool) {
	if f.opts.CacheTTL <= 0 {
		return nil, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[location]
	if !ok {
		return nil, false
	}
	return &entry, time.Now().Before(entry.expiry)
}

func (f *Fetcher) store(location, script, lastModified string) {
	if f.opts.CacheTTL <= 0 {
		return
	}
	f.mu.Lock()
	f.cache[location] = cachedScript{script: script, lastModified: lastModified, expiry: time.Now().Add(f.opts.CacheTTL)}
	f.mu.Unlock()
}

// fetch downloads or reads location. It returns errNotModified when the
// source still matches lastModified.
func (f *Fetcher) fetch(ctx context.Context, location, lastModified string) (string, string, error) {
	var (
		raw         []byte
		contentType string
		modified    string
		err         error
	)

	u, parseErr := weburl.ParseString(location, nil)
	switch {
	case parseErr == nil && (u.Scheme() == "http" || u.Scheme() == "https"):
		raw, contentType, modified, err = f.fetchHTTP(ctx, u.String(), lastModified)
	case parseErr == nil && u.Scheme() == "file":
		raw, modified, err = f.readFile(filePath(u), lastModified)
	case parseErr == nil:
		return "", "", fmt.Errorf("%w: scheme %q", ErrUnsupportedLocation, u.Scheme())
	default:
		raw, modified, err = f.readFile(location, lastModified)
	}
	if err != nil {
		return "", "", err
	}
	if len(raw) == 0 {
		return "", "", fmt.Errorf("%w: %s", ErrEmptyScript, location)
	}

	decoded, err := decodeBytesWithCharset(raw, contentType, f.opts.Charset)
	if err != nil {
		return "", "", err
	}
	if !utf8.Valid(decoded) {
		slog.Warn("PAC content is not valid UTF-8 after decoding, replacing invalid bytes", "location", location)
		decoded = []byte(strings.ToValidUTF8(string(decoded), "\uFFFD"))
	}
	return string(decoded), modified, nil
}

// filePath converts a file URL to a local path; "/C:/x" becomes "C:/x".
func filePath(u *weburl.URL) string {
	p := weburl.PercentDecodeString(u.Path())
	if len(p) > 2 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return p
}

func (f *Fetcher) fetchHTTP(ctx context.Context, location, lastModified string) ([]byte, string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to create PAC request for %s: %w", location, err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to fetch PAC from %s: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && lastModified != "" {
		return nil, "", "", errNotModified
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", "", fmt.Errorf("failed to fetch PAC from %s: status %s", location, resp.Status)
	}

	// One extra byte tells an exact-size script from an oversized one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxSize+1))
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to read PAC content from %s: %w", location, err)
	}
	if int64(len(body)) > f.opts.MaxSize {
		return nil, "", "", fmt.Errorf("%w: %s is larger than %d bytes", ErrScriptTooLarge, location, f.opts.MaxSize)
	}
	contentType := resp.Header.Get("Content-Type")
	slog.Debug("Fetched PAC script via HTTP(S)", "url", location, "size", len(body), "content_type", contentType)
	return body, contentType, resp.Header.Get("Last-Modified"), nil
}

func (f *Fetcher) readFile(path, lastModified string) ([]byte, string, error) {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat PAC file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, "", fmt.Errorf("PAC file path %s is a directory", path)
	}
	modTime := info.ModTime().UTC().Format(http.TimeFormat)
	if lastModified != "" && modTime == lastModified {
		return nil, "", errNotModified
	}
	if info.Size() > f.opts.MaxSize {
		return nil, "", fmt.Errorf("%w: %s is larger than %d bytes", ErrScriptTooLarge, path, f.opts.MaxSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read PAC file %s: %w", path, err)
	}
	slog.Debug("Read PAC script from local file", "path", path, "size", len(content))
	return content, modTime, nil
}

// decodeBytesWithCharset converts raw to UTF-8. The charset comes from the
// override, then the Content-Type header, then a byte order mark.
func decodeBytesWithCharset(raw []byte, contentType, override string) ([]byte, error) {
	name := strings.TrimSpace(override)
	if name == "" && contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			name = params["charset"]
		} else {
			slog.Warn("Failed to parse Content-Type header, assuming UTF-8", "header", contentType, "error", err)
		}
	}
	if name == "" {
		if _, detected, certain := charset.DetermineEncoding(raw, ""); certain {
			name = detected
		}
	}
	if name == "" {
		name = "utf-8"
	}

	enc, canonical := charset.Lookup(name)
	if enc == nil {
		slog.Warn("Unsupported PAC charset, falling back to UTF-8", "charset", name)
		canonical = "utf-8"
	}
	if canonical == "utf-8" {
		return bytes.TrimPrefix(raw, utf8BOM), nil
	}

	decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PAC content from %s: %w", canonical, err)
	}
	slog.Debug("Decoded PAC script", "charset", canonical)
	return decoded, nil
}
