package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rwx-im/rwx-im/internal/testutil"
	"github.com/rwx-im/rwx-im/pkg/address"
	"github.com/rwx-im/rwx-im/pkg/cache"
	"github.com/rwx-im/rwx-im/pkg/repository"
	"github.com/rwx-im/rwx-im/pkg/server"
)

const testDigest = "blake2b:2f6b2fd3a5a4fd9d7e3b8b3ad2c96f0fc0b63bd7c1f4bb2c1a3e1a3c1c2b1a09"

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := DefaultConfig(baseURL)
	cfg.InitialBackoff = 5 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func mustAddress(t *testing.T, owner, tail string) address.Address {
	t.Helper()
	addr, err := address.New(owner, tail)
	if err != nil {
		t.Fatalf("address.New() error = %v", err)
	}
	return addr
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{name: "valid config", config: DefaultConfig("http://localhost:34413")},
		{name: "https", config: DefaultConfig("https://cache.example.com/")},
		{name: "empty base url", config: DefaultConfig(""), expectError: true},
		{name: "unsupported scheme", config: DefaultConfig("ftp://localhost"), expectError: true},
		{
			name:        "negative retries",
			config:      Config{BaseURL: "http://localhost", MaxRetries: -1},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c.httpClient.Timeout <= 0 {
				t.Error("Expected a positive timeout")
			}
		})
	}
}

func TestEscapePath(t *testing.T) {
	tests := []struct {
		owner, tail string
		want        string
	}{
		{"alice", "docs/readme.txt", "/~alice/docs/readme.txt"},
		{"alice", "", "/~alice/"},
		{"bob", "a b/c", "/~bob/a%20b/c"},
		{"bob", "q?x", "/~bob/q%3Fx"},
	}

	for _, tt := range tests {
		if got := escapePath(mustAddress(t, tt.owner, tt.tail)); got != tt.want {
			t.Errorf("escapePath(%q, %q) = %q, want %q", tt.owner, tt.tail, got, tt.want)
		}
	}
}

func TestGet_Bound(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetResponse("/~alice/x", testutil.NewContentResponse(testDigest, "payload"))

	c := newTestClient(t, mock.URL())
	got, err := c.Get(context.Background(), mustAddress(t, "alice", "x"), nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Bound || got.NotModified {
		t.Errorf("Bound = %v, NotModified = %v", got.Bound, got.NotModified)
	}
	if string(got.Body) != "payload" {
		t.Errorf("Body = %q", got.Body)
	}
	if got.Entry == nil || got.Entry.Digest.String() != testDigest {
		t.Fatalf("Entry = %+v", got.Entry)
	}
	if got.Entry.Size != int64(len("payload")) {
		t.Errorf("Entry.Size = %d", got.Entry.Size)
	}
	if ua := mock.LastRequestHeader().Get("User-Agent"); ua != "rwx-im-client/0.1.0" {
		t.Errorf("User-Agent = %q", ua)
	}
}

func TestGet_Unbound(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	c := newTestClient(t, mock.URL())
	got, err := c.Get(context.Background(), mustAddress(t, "alice", "nothing"), nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Bound {
		t.Error("Expected unbound content")
	}
	if got.Entry != nil {
		t.Errorf("Entry = %+v, want nil", got.Entry)
	}
	if string(got.Body) != "unbound" {
		t.Errorf("Body = %q", got.Body)
	}
}

func TestGet_Conditional(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetHandler("/~alice/x", testutil.NewConditionalHandler(testDigest, "payload"))

	c := newTestClient(t, mock.URL())
	ctx := context.Background()
	addr := mustAddress(t, "alice", "x")

	first, err := c.Get(ctx, addr, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	second, err := c.Get(ctx, addr, first.Entry)
	if err != nil {
		t.Fatalf("conditional Get() error = %v", err)
	}
	if !second.NotModified || !second.Bound {
		t.Errorf("NotModified = %v, Bound = %v", second.NotModified, second.Bound)
	}
	if second.Entry != first.Entry {
		t.Error("Expected the known entry to be returned")
	}
	if len(second.Body) != 0 {
		t.Errorf("Body = %q, want empty", second.Body)
	}
	if mock.ConditionalCount() != 1 {
		t.Errorf("ConditionalCount = %d, want 1", mock.ConditionalCount())
	}
}

func TestGet_RetriesServerErrors(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetSequence("/~alice/x",
		testutil.NewServerErrorResponse(),
		testutil.NewRateLimitResponse(),
		testutil.NewContentResponse(testDigest, "payload"),
	)

	c := newTestClient(t, mock.URL())
	got, err := c.Get(context.Background(), mustAddress(t, "alice", "x"), nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Body) != "payload" {
		t.Errorf("Body = %q", got.Body)
	}
	if mock.RequestCount() != 3 {
		t.Errorf("RequestCount = %d, want 3", mock.RequestCount())
	}
}

func TestGet_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetResponse("/~alice/x", testutil.NewServerErrorResponse())

	c := newTestClient(t, mock.URL())
	_, err := c.Get(context.Background(), mustAddress(t, "alice", "x"), nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected wrapped 500 StatusError, got %v", err)
	}
	if mock.RequestCount() != 3 {
		t.Errorf("RequestCount = %d, want 3", mock.RequestCount())
	}
}

func TestGet_ClientErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetResponse("/~alice/x", testutil.MockResponse{StatusCode: http.StatusMethodNotAllowed, Body: "method not allowed"})

	c := newTestClient(t, mock.URL())
	_, err := c.Get(context.Background(), mustAddress(t, "alice", "x"), nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.ErrorClass != ErrorClassClient || statusErr.Message != "method not allowed" {
		t.Errorf("StatusError = %+v", statusErr)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("RequestCount = %d, want 1", mock.RequestCount())
	}
}

func TestGet_NetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := newTestClient(t, url)
	_, err := c.Get(context.Background(), mustAddress(t, "alice", "x"), nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("Expected network StatusError, got %v", err)
	}
}

func TestPut(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetResponse("/~alice/x", testutil.NewStoredResponse(testDigest, true))

	c := newTestClient(t, mock.URL())
	res, err := c.Put(context.Background(), mustAddress(t, "alice", "x"), []byte("payload"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !res.Created {
		t.Error("Expected Created")
	}
	if res.Digest.String() != testDigest {
		t.Errorf("Digest = %s", res.Digest)
	}
	if string(mock.LastRequestBody()) != "payload" {
		t.Errorf("request body = %q", mock.LastRequestBody())
	}
}

func TestPut_ReplaysBodyOnRetry(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetSequence("/~alice/x",
		testutil.NewServerErrorResponse(),
		testutil.NewStoredResponse(testDigest, false),
	)

	c := newTestClient(t, mock.URL())
	res, err := c.Put(context.Background(), mustAddress(t, "alice", "x"), []byte("payload"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if res.Created {
		t.Error("Expected unchanged binding")
	}
	if string(mock.LastRequestBody()) != "payload" {
		t.Errorf("replayed body = %q", mock.LastRequestBody())
	}
}

func TestHealth(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.SetResponse("/health", testutil.MockResponse{StatusCode: http.StatusOK, Body: "OK"})

	c := newTestClient(t, mock.URL())
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}

// TestRoundTrip_Server runs the client against a real server backed by a
// fresh repository.
func TestRoundTrip_Server(t *testing.T) {
	repo, err := repository.NewResolver(testLogger()).Resolve(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	defer repo.Close()

	srv := server.New(repo, cache.NewMemoryStore(16, time.Minute), server.DefaultConfig())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	ctx := context.Background()
	addr := mustAddress(t, "alice", "docs/read me.txt")

	unbound, err := c.Get(ctx, addr, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if unbound.Bound {
		t.Fatal("Expected unbound address")
	}
	if want := `user: alice tail: "docs/read me.txt"`; string(unbound.Body) != want {
		t.Errorf("echo = %q, want %q", unbound.Body, want)
	}

	put, err := c.Put(ctx, addr, []byte("hello"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !put.Created {
		t.Error("Expected Created on first Put")
	}

	got, err := c.Get(ctx, addr, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Bound || string(got.Body) != "hello" || got.Entry.Digest != put.Digest {
		t.Errorf("Get() = %+v", got)
	}

	again, err := c.Get(ctx, addr, got.Entry)
	if err != nil {
		t.Fatalf("conditional Get() error = %v", err)
	}
	if !again.NotModified {
		t.Error("Expected 304 for the known entry")
	}

	second, err := c.Put(ctx, addr, []byte("hello"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if second.Created || second.Digest != put.Digest {
		t.Errorf("second Put() = %+v", second)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
