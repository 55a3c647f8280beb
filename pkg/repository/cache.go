package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rwx-im/rwx-im/pkg/address"
	"github.com/rwx-im/rwx-im/pkg/dedup"
)

// Status tells whether a location holds a repository.
type Status int

const (
	// StatusAbsent means no repository exists at the location.
	StatusAbsent Status = iota

	// StatusPresent means a repository is attached.
	StatusPresent
)

func (s Status) String() string {
	if s == StatusPresent {
		return "present"
	}
	return "absent"
}

// Object is content bound to a resource address.
type Object struct {
	Address  address.Address
	Digest   digest.Digest
	Size     int64
	StoredAt time.Time
}

// ContentStore resolves resource addresses to stored bytes.
type ContentStore interface {
	// Lookup returns the object bound to addr, or ErrContentNotFound.
	Lookup(ctx context.Context, addr address.Address) (Object, error)

	// Read returns the content stored under d, or ErrContentNotFound.
	Read(ctx context.Context, d digest.Digest) ([]byte, error)

	// Store writes src and binds addr to it. It reports whether the binding changed.
	Store(ctx context.Context, addr address.Address, src io.Reader) (Object, bool, error)
}

// Cache is a content-addressed cache repository at one location. It
// exclusively owns its storage handle and is safe for concurrent use.
type Cache struct {
	location string
	status   Status
	created  bool
	repo     *dedup.Repo
	logger   zerolog.Logger
}

var _ ContentStore = (*Cache)(nil)

// Open attaches to the repository at location.
//
// Errors wrap dedup.ErrNotFound, dedup.ErrCorrupt or dedup.ErrPermissionDenied.
func Open(location string) (*Cache, error) {
	logger := log.With().Str("component", "repository").Str("location", location).Logger()

	logger.Trace().Msg("Opening cache repository")
	repo, err := dedup.Open(location, staticPassword)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", location, err)
	}

	return newCache(repo, false, logger), nil
}

// Init creates a repository at location with settings.
//
// Errors wrap dedup.ErrAlreadyExists, dedup.ErrUnwritable or
// dedup.ErrUnsupportedSettings.
func Init(location string, settings dedup.Settings) (*Cache, error) {
	logger := log.With().Str("component", "repository").Str("location", location).Logger()

	logger.Debug().Stringer("settings", settings).Msg("Initializing cache repository")
	repo, err := dedup.Init(location, staticPassword, settings)
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", location, err)
	}

	return newCache(repo, true, logger), nil
}

func newCache(repo *dedup.Repo, created bool, logger zerolog.Logger) *Cache {
	return &Cache{
		location: repo.Root(),
		status:   StatusPresent,
		created:  created,
		repo:     repo,
		logger:   logger,
	}
}

// Location returns the absolute repository location.
func (c *Cache) Location() string { return c.location }

// Status returns StatusPresent for every Cache handed out by Open, Init or a Resolver.
func (c *Cache) Status() Status { return c.status }

// Created reports whether this Cache was produced by Init rather than Open.
func (c *Cache) Created() bool { return c.created }

// Settings returns the settings the repository was created with.
func (c *Cache) Settings() dedup.Settings { return c.repo.Settings() }

// Chunks lists every stored chunk digest.
func (c *Cache) Chunks(ctx context.Context) ([]digest.Digest, error) {
	return c.repo.Chunks(ctx)
}

// VerifyChunk checks the chunk stored under d.
func (c *Cache) VerifyChunk(ctx context.Context, d digest.Digest) error {
	return c.repo.VerifyChunk(ctx, d)
}

// Close releases the storage handle.
func (c *Cache) Close() error {
	return c.repo.Close()
}

// Lookup returns the object bound to addr.
func (c *Cache) Lookup(ctx context.Context, addr address.Address) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	rec, err := c.repo.Lookup(addr.Name())
	if err != nil {
		if errors.Is(err, dedup.ErrNameNotFound) {
			Operations.WithLabelValues("lookup", "not_found").Inc()
			return Object{}, fmt.Errorf("%w: %s", ErrContentNotFound, addr)
		}
		Operations.WithLabelValues("lookup", "error").Inc()
		return Object{}, fmt.Errorf("lookup %s: %w", addr, err)
	}

	Operations.WithLabelValues("lookup", "ok").Inc()
	return Object{
		Address:  addr,
		Digest:   rec.Digest,
		Size:     rec.Size,
		StoredAt: rec.StoredAt,
	}, nil
}

// Read returns the content stored under d.
func (c *Cache) Read(ctx context.Context, d digest.Digest) ([]byte, error) {
	data, err := c.repo.Read(ctx, d)
	if err != nil {
		if errors.Is(err, dedup.ErrBlobNotFound) {
			Operations.WithLabelValues("read", "not_found").Inc()
			return nil, fmt.Errorf("%w: %s", ErrContentNotFound, d)
		}
		Operations.WithLabelValues("read", "error").Inc()
		return nil, fmt.Errorf("read %s: %w", d, err)
	}

	Operations.WithLabelValues("read", "ok").Inc()
	return data, nil
}

// Store writes src into the repository and binds addr to it. Storing the
// same content twice stores it once.
func (c *Cache) Store(ctx context.Context, addr address.Address, src io.Reader) (Object, bool, error) {
	info, err := c.repo.Write(ctx, src)
	if err != nil {
		Operations.WithLabelValues("store", "error").Inc()
		return Object{}, false, fmt.Errorf("store %s: %w", addr, err)
	}

	obj := Object{
		Address:  addr,
		Digest:   info.Digest,
		Size:     info.Size,
		StoredAt: time.Now().UTC(),
	}
	changed, err := c.repo.Bind(addr.Name(), dedup.NameRecord{
		Digest:   obj.Digest,
		Size:     obj.Size,
		StoredAt: obj.StoredAt,
	})
	if err != nil {
		Operations.WithLabelValues("store", "error").Inc()
		return Object{}, false, fmt.Errorf("bind %s: %w", addr, err)
	}

	if !changed {
		// Keep the original timestamp for an unchanged binding.
		if prev, err := c.Lookup(ctx, addr); err == nil {
			obj = prev
		}
	}

	Operations.WithLabelValues("store", "ok").Inc()
	c.logger.Debug().
		Str("owner", addr.Owner).
		Str("tail", addr.Tail).
		Str("digest", obj.Digest.String()).
		Int64("size", obj.Size).
		Bool("changed", changed).
		Msg("Stored content")

	return obj, changed, nil
}
