package cache

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"
)

// DigestHeader carries the content digest on served content.
const DigestHeader = "X-Content-Digest"

// ETag returns the strong entity tag for entry.
func ETag(entry *Entry) string {
	if entry == nil || entry.Digest == "" {
		return ""
	}
	return `"` + entry.Digest.String() + `"`
}

// SetEntryHeaders sets the validators and length headers for entry.
func SetEntryHeaders(h http.Header, entry *Entry) {
	if entry == nil {
		return
	}
	h.Set("ETag", ETag(entry))
	h.Set(DigestHeader, entry.Digest.String())
	h.Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	if !entry.StoredAt.IsZero() {
		h.Set("Last-Modified", entry.StoredAt.UTC().Format(http.TimeFormat))
	}
}

// NotModified reports whether req's If-None-Match matches entry. It accepts
// a list of tags, weak tags and "*".
func NotModified(req *http.Request, entry *Entry) bool {
	if req == nil || entry == nil {
		return false
	}
	header := req.Header.Get("If-None-Match")
	if header == "" {
		return false
	}

	etag := ETag(entry)
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// AddConditionalHeaders adds If-None-Match for a previously seen entry.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if entry == nil || req == nil {
		return
	}
	if etag := ETag(entry); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
}

// ResponseToEntry reads the validators of a served-content response. It
// returns nil when resp carries no digest.
func ResponseToEntry(resp *http.Response) *Entry {
	if resp == nil {
		return nil
	}
	d := resp.Header.Get(DigestHeader)
	if d == "" {
		d = strings.Trim(strings.TrimPrefix(resp.Header.Get("ETag"), "W/"), `"`)
	}
	if d == "" {
		return nil
	}

	entry := &Entry{Digest: digest.Digest(d), Size: resp.ContentLength}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			entry.StoredAt = t
		}
	}
	return entry
}
