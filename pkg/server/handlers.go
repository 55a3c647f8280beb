package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rwx-im/rwx-im/pkg/address"
	"github.com/rwx-im/rwx-im/pkg/cache"
	"github.com/rwx-im/rwx-im/pkg/metrics"
	"github.com/rwx-im/rwx-im/pkg/repository"
)

const (
	healthPath  = "/health"
	metricsPath = "/metrics"

	// CacheStatusHeader tells whether an address was bound ("HIT") or not ("MISS").
	CacheStatusHeader = "X-Cache-Status"
)

// dispatch routes on the raw path. http.ServeMux is not used because it
// cleans paths, and a tail is served verbatim.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case healthPath:
		if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
		return
	case metricsPath:
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	target, err := address.Parse(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if target.Kind == address.KindIndex {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, IndexBody)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.serveContent(w, r, target.Address)
	case http.MethodPut:
		s.storeContent(w, r, target.Address)
	default:
		allowMethods(w, r, http.MethodGet, http.MethodHead, http.MethodPut)
	}
}

// allowMethods writes 405 and returns false unless r uses one of methods.
func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	return false
}

// serveContent answers GET and HEAD for a resource address.
func (s *Server) serveContent(w http.ResponseWriter, r *http.Request, addr address.Address) {
	ctx := r.Context()
	logger := s.logger.With().
		Str("request_id", RequestID(ctx)).
		Str("owner", addr.Owner).
		Str("tail", addr.Tail).
		Logger()

	entry, cached, err := s.lookup(ctx, addr)
	if errors.Is(err, repository.ErrContentNotFound) {
		s.echo(w, r, addr)
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Address lookup failed")
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	if cache.NotModified(r, entry) {
		cache.NotModifiedResponses.Inc()
		cache.SetEntryHeaders(w.Header(), entry)
		w.Header().Del("Content-Length")
		w.Header().Set(CacheStatusHeader, "HIT")
		w.WriteHeader(http.StatusNotModified)
		return
	}

	data, err := s.store.Read(ctx, entry.Digest)
	if errors.Is(err, repository.ErrContentNotFound) && cached {
		// The cached binding points at content this repository does not have.
		logger.Warn().Str("digest", entry.Digest.String()).Msg("Stale lookup cache entry")
		_ = s.lookups.Delete(ctx, cache.KeyFor(addr))
		entry, _, err = s.lookupStore(ctx, addr)
		if err == nil {
			data, err = s.store.Read(ctx, entry.Digest)
		}
	}
	if errors.Is(err, repository.ErrContentNotFound) {
		s.echo(w, r, addr)
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Content read failed")
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}

	cache.SetEntryHeaders(w.Header(), entry)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set(CacheStatusHeader, "HIT")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		logger.Debug().Err(err).Msg("Failed to write response")
	}
}

// echo is the answer for an address with no content bound.
func (s *Server) echo(w http.ResponseWriter, r *http.Request, addr address.Address) {
	body := fmt.Sprintf("user: %s tail: %q", addr.Owner, addr.Tail)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set(CacheStatusHeader, "MISS")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		io.WriteString(w, body)
	}
}

// storeContent answers PUT for a resource address.
func (s *Server) storeContent(w http.ResponseWriter, r *http.Request, addr address.Address) {
	ctx := r.Context()
	body := http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	defer body.Close()

	obj, changed, err := s.store.Store(ctx, addr, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.Error().
			Err(err).
			Str("request_id", RequestID(ctx)).
			Str("owner", addr.Owner).
			Str("tail", addr.Tail).
			Msg("Store failed")
		http.Error(w, "store failed", http.StatusInternalServerError)
		return
	}

	entry := cache.NewEntry(obj.Digest, obj.Size, obj.StoredAt, s.config.LookupTTL)
	if err := s.lookups.Set(ctx, cache.KeyFor(addr), entry); err != nil {
		// The next lookup falls through to the repository.
		s.logger.Warn().Err(err).Str("owner", addr.Owner).Str("tail", addr.Tail).Msg("Lookup cache set failed")
		_ = s.lookups.Delete(ctx, cache.KeyFor(addr))
	}

	status := http.StatusOK
	if changed {
		status = http.StatusCreated
	}
	w.Header().Set("ETag", cache.ETag(entry))
	w.Header().Set(cache.DigestHeader, obj.Digest.String())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, obj.Digest.String())
}

// lookup resolves addr through the lookup cache, then the store. cached
// reports whether the entry came from the cache.
func (s *Server) lookup(ctx context.Context, addr address.Address) (*cache.Entry, bool, error) {
	entry, err := s.lookups.Get(ctx, cache.KeyFor(addr))
	if err == nil {
		return entry, true, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn().Err(err).Msg("Lookup cache get failed")
	}
	return s.lookupStore(ctx, addr)
}

func (s *Server) lookupStore(ctx context.Context, addr address.Address) (*cache.Entry, bool, error) {
	obj, err := s.store.Lookup(ctx, addr)
	if err != nil {
		return nil, false, err
	}
	entry := cache.NewEntry(obj.Digest, obj.Size, obj.StoredAt, s.config.LookupTTL)
	if err := s.lookups.Set(ctx, cache.KeyFor(addr), entry); err != nil {
		s.logger.Warn().Err(err).Msg("Lookup cache set failed")
	}
	return entry, false, nil
}
