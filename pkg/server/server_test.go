package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwx-im/rwx-im/pkg/address"
	"github.com/rwx-im/rwx-im/pkg/cache"
	"github.com/rwx-im/rwx-im/pkg/dedup"
	"github.com/rwx-im/rwx-im/pkg/repository"
)

func newTestRepository(t *testing.T) *repository.Cache {
	t.Helper()
	settings, err := repository.DefaultSettings()
	require.NoError(t, err)
	c, err := repository.Init(filepath.Join(t.TempDir(), "cache"), settings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newTestServer(t *testing.T, cfg Config) (*Server, *repository.Cache, *cache.MemoryStore) {
	t.Helper()
	repo := newTestRepository(t)
	mem := cache.NewMemoryStore(64, time.Minute)
	return New(repo, cache.NewTiered(mem), cfg), repo, mem
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "http://localhost"+path, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIndex(t *testing.T) {
	srv, _, _ := newTestServer(t, DefaultConfig())

	rec := do(t, srv.Handler(), http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", rec.Body.String())
}

func TestRouting(t *testing.T) {
	srv, _, _ := newTestServer(t, DefaultConfig())

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
		wantAllow  string
	}{
		{"unbound address echoes", http.MethodGet, "/~alice/docs/readme.txt", http.StatusOK, `user: alice tail: "docs/readme.txt"`, ""},
		{"empty tail", http.MethodGet, "/~alice/", http.StatusOK, `user: alice tail: ""`, ""},
		{"tail kept verbatim", http.MethodGet, "/~alice/a//b", http.StatusOK, `user: alice tail: "a//b"`, ""},
		{"nested marker in tail", http.MethodGet, "/~bob/~carol/x", http.StatusOK, `user: bob tail: "~carol/x"`, ""},
		{"quote in tail escaped", http.MethodGet, "/~alice/say%22hi%22", http.StatusOK, `user: alice tail: "say\"hi\""`, ""},
		{"non-ascii tail kept", http.MethodGet, "/~alice/caf%C3%A9", http.StatusOK, `user: alice tail: "café"`, ""},
		{"empty owner", http.MethodGet, "/~/x", http.StatusBadRequest, "", ""},
		{"bare marker", http.MethodGet, "/~", http.StatusBadRequest, "", ""},
		{"owner without separator", http.MethodGet, "/~alice", http.StatusNotFound, "", ""},
		{"unknown path", http.MethodGet, "/favicon.ico", http.StatusNotFound, "", ""},
		{"health", http.MethodGet, "/health", http.StatusOK, "OK", ""},
		{"delete resource", http.MethodDelete, "/~alice/x", http.StatusMethodNotAllowed, "", "GET, HEAD, PUT"},
		{"post index", http.MethodPost, "/", http.StatusMethodNotAllowed, "", "GET, HEAD"},
		{"put health", http.MethodPut, "/health", http.StatusMethodNotAllowed, "", "GET, HEAD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv.Handler(), tt.method, tt.path, nil, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantAllow != "" {
				assert.Equal(t, tt.wantAllow, rec.Header().Get("Allow"))
			}
		})
	}
}

func TestUnboundAddressHeaders(t *testing.T) {
	srv, _, _ := newTestServer(t, DefaultConfig())

	rec := do(t, srv.Handler(), http.MethodGet, "/~alice/x", nil, nil)
	assert.Equal(t, "MISS", rec.Header().Get(CacheStatusHeader))
	assert.Empty(t, rec.Header().Get("ETag"))

	head := do(t, srv.Handler(), http.MethodHead, "/~alice/x", nil, nil)
	assert.Equal(t, http.StatusOK, head.Code)
	assert.Empty(t, head.Body.String())
}

func TestPutThenGet(t *testing.T) {
	srv, _, _ := newTestServer(t, DefaultConfig())
	h := srv.Handler()
	want := dedup.HashingBlake2b.Digest([]byte("readme contents"))

	put := do(t, h, http.MethodPut, "/~alice/docs/readme.txt", strings.NewReader("readme contents"), nil)
	require.Equal(t, http.StatusCreated, put.Code)
	assert.Equal(t, want.String(), put.Body.String())
	assert.Equal(t, `"`+want.String()+`"`, put.Header().Get("ETag"))

	get := do(t, h, http.MethodGet, "/~alice/docs/readme.txt", nil, nil)
	require.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, "readme contents", get.Body.String())
	assert.Equal(t, "HIT", get.Header().Get(CacheStatusHeader))
	assert.Equal(t, want.String(), get.Header().Get(cache.DigestHeader))
	assert.Equal(t, `"`+want.String()+`"`, get.Header().Get("ETag"))
	assert.Equal(t, "15", get.Header().Get("Content-Length"))
	assert.NotEmpty(t, get.Header().Get("Last-Modified"))

	again := do(t, h, http.MethodPut, "/~alice/docs/readme.txt", strings.NewReader("readme contents"), nil)
	assert.Equal(t, http.StatusOK, again.Code)

	changed := do(t, h, http.MethodPut, "/~alice/docs/readme.txt", strings.NewReader("new contents"), nil)
	assert.Equal(t, http.StatusCreated, changed.Code)

	get = do(t, h, http.MethodGet, "/~alice/docs/readme.txt", nil, nil)
	assert.Equal(t, "new contents", get.Body.String())
}

func TestHead(t *testing.T) {
	srv, _, _ := newTestServer(t, DefaultConfig())
	h := srv.Handler()

	do(t, h, http.MethodPut, "/~alice/a", strings.NewReader("abc"), nil)

	rec := do(t, h, http.MethodHead, "/~alice/a", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())
}

func TestConditionalGet(t *testing.T) {
	srv, _, _ := newTestServer(t, DefaultConfig())
	h := srv.Handler()

	put := do(t, h, http.MethodPut, "/~alice/a", strings.NewReader("abc"), nil)
	etag := put.Header().Get("ETag")

	rec := do(t, h, http.MethodGet, "/~alice/a", nil, http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, etag, rec.Header().Get("ETag"))

	rec = do(t, h, http.MethodGet, "/~alice/a", nil, http.Header{"If-None-Match": {`"blake2b:other"`}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Body.String())
}

func TestPutTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUploadBytes = 8
	srv, repo, _ := newTestServer(t, cfg)

	rec := do(t, srv.Handler(), http.MethodPut, "/~alice/big", strings.NewReader(strings.Repeat("x", 64)), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	addr, _ := address.New("alice", "big")
	_, err := repo.Lookup(context.Background(), addr)
	assert.ErrorIs(t, err, repository.ErrContentNotFound)
}

func TestLookupCache(t *testing.T) {
	srv, repo, mem := newTestServer(t, DefaultConfig())
	h := srv.Handler()
	ctx := context.Background()
	addr, _ := address.New("alice", "cached")

	// Bind directly in the repository, bypassing the server.
	_, _, err := repo.Store(ctx, addr, strings.NewReader("direct"))
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/~alice/cached", nil, nil)
	assert.Equal(t, "direct", rec.Body.String())

	entry, err := mem.Get(ctx, cache.KeyFor(addr))
	require.NoError(t, err)
	assert.Equal(t, dedup.HashingBlake2b.Digest([]byte("direct")), entry.Digest)
}

func TestStaleLookupCacheEntry(t *testing.T) {
	srv, _, mem := newTestServer(t, DefaultConfig())
	ctx := context.Background()
	addr, _ := address.New("alice", "ghost")

	ghost := dedup.HashingBlake2b.Digest([]byte("never stored"))
	require.NoError(t, mem.Set(ctx, cache.KeyFor(addr), cache.NewEntry(ghost, 12, time.Now(), time.Minute)))

	rec := do(t, srv.Handler(), http.MethodGet, "/~alice/ghost", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `user: alice tail: "ghost"`, rec.Body.String())

	_, err := mem.Get(ctx, cache.KeyFor(addr))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestRequestID(t *testing.T) {
	srv, _, _ := newTestServer(t, DefaultConfig())

	rec := do(t, srv.Handler(), http.MethodGet, "/", nil, http.Header{RequestIDHeader: {"abc-123"}})
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = do(t, srv.Handler(), http.MethodGet, "/", nil, nil)
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, DefaultConfig())
	h := srv.Handler()

	do(t, h, http.MethodGet, "/", nil, nil)
	rec := do(t, h, http.MethodGet, "/metrics", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rwx_im_http_requests_total{route="index",status="200"}`)
}

func TestConcurrentReads(t *testing.T) {
	srv, _, _ := newTestServer(t, DefaultConfig())
	h := srv.Handler()

	for i := 0; i < 10; i++ {
		path := fmt.Sprintf("/~user%d/file", i)
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, path, strings.NewReader(path), nil).Code)
	}

	var wg sync.WaitGroup
	errs := make(chan string, 100)
	for n := 0; n < 100; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			path := fmt.Sprintf("/~user%d/file", n%10)
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Body.String() != path {
				errs <- fmt.Sprintf("%s: got %q", path, rec.Body.String())
			}
		}(n)
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestServeAndShutdown(t *testing.T) {
	srv, _, _ := newTestServer(t, DefaultConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "hello world", string(body))

	require.NoError(t, srv.Shutdown(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestNew_Defaults(t *testing.T) {
	srv := New(newTestRepository(t), nil, Config{})
	assert.Equal(t, DefaultAddr, srv.Addr())
	assert.Equal(t, int64(DefaultMaxUploadBytes), srv.config.MaxUploadBytes)
	assert.Panics(t, func() { New(nil, nil, Config{}) })
}
