package pac

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yolkispalkis/nwutil/pkg/weburl"
)

const testScript = `function FindProxyForURL(url, host) { return "DIRECT"; }`

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/x-ns-proxy-autoconfig")
		_, _ = w.Write([]byte(testScript))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{})
	defer f.Close()

	script, err := f.Fetch(context.Background(), srv.URL+"/proxy.pac")
	require.NoError(t, err)
	assert.Equal(t, testScript, script)
}

func TestFetchHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewFetcher(FetcherOptions{})
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.pac")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 65)))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{MaxSize: 64})
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrScriptTooLarge)

	path := filepath.Join(t.TempDir(), "big.pac")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 65)), 0o600))
	_, err = f.Fetch(context.Background(), path)
	assert.ErrorIs(t, err, ErrScriptTooLarge)
}

func TestFetchCharset(t *testing.T) {
	// "прокси" in windows-1251.
	cp1251 := []byte{0xEF, 0xF0, 0xEE, 0xEA, 0xF1, 0xE8}
	body := append([]byte(`// `), cp1251...)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/header" {
			w.Header().Set("Content-Type", "application/x-ns-proxy-autoconfig; charset=windows-1251")
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{})
	script, err := f.Fetch(context.Background(), srv.URL+"/header")
	require.NoError(t, err)
	assert.Equal(t, "// прокси", script)

	f = NewFetcher(FetcherOptions{Charset: "windows-1251"})
	script, err = f.Fetch(context.Background(), srv.URL+"/override")
	require.NoError(t, err)
	assert.Equal(t, "// прокси", script)
}

func TestFetchStripsUTF8BOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bom.pac")
	require.NoError(t, os.WriteFile(path, append([]byte{0xEF, 0xBB, 0xBF}, testScript...), 0o600))

	script, err := NewFetcher(FetcherOptions{}).Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, testScript, script)
}

func TestFetchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.pac")
	require.NoError(t, os.WriteFile(path, []byte(testScript), 0o600))

	f := NewFetcher(FetcherOptions{})

	script, err := f.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, testScript, script)

	script, err = f.Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, testScript, script)

	_, err = f.Fetch(context.Background(), filepath.Join(dir, "nope.pac"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	_, err = f.Fetch(context.Background(), dir)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.pac")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = f.Fetch(context.Background(), empty)
	assert.ErrorIs(t, err, ErrEmptyScript)

	_, err = f.Fetch(context.Background(), "ftp://host/proxy.pac")
	assert.ErrorIs(t, err, ErrUnsupportedLocation)
}

func TestFetchSharedAndCached(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(testScript))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{CacheTTL: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			script, err := f.Fetch(context.Background(), srv.URL)
			assert.NoError(t, err)
			assert.Equal(t, testScript, script)
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), hits.Load())

	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewFetcher(FetcherOptions{Timeout: 5 * time.Second}).Fetch(ctx, srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFetchRevalidatesExpiredScript(t *testing.T) {
	const lastModified = "Fri, 15 Mar 2024 10:30:00 GMT"
	var hits atomic.Int32
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if n > 1 {
			assert.Equal(t, lastModified, r.Header.Get("If-Modified-Since"))
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Last-Modified", lastModified)
		_, _ = w.Write([]byte(testScript))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{CacheTTL: 10 * time.Millisecond})

	script, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, testScript, script)

	time.Sleep(30 * time.Millisecond)
	script, err = f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, testScript, script)
	assert.Equal(t, int32(2), hits.Load())

	// A failed refresh keeps serving the previous script.
	failing.Store(true)
	time.Sleep(30 * time.Millisecond)
	script, err = f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, testScript, script)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchFileURLWithDriveLetter(t *testing.T) {
	u, err := weburl.ParseString("file:///C:/proxy%20files/proxy.pac", nil)
	require.NoError(t, err)
	assert.Equal(t, "C:/proxy files/proxy.pac", filePath(u))

	u, err = weburl.ParseString("file:///etc/proxy.pac", nil)
	require.NoError(t, err)
	assert.Equal(t, "/etc/proxy.pac", filePath(u))
}
