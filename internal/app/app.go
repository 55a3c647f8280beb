// Package app wires the process together: logging, repository resolution,
// lookup caches and the serving layer.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rwx-im/rwx-im/internal/config"
	"github.com/rwx-im/rwx-im/pkg/cache"
	"github.com/rwx-im/rwx-im/pkg/dedup"
	"github.com/rwx-im/rwx-im/pkg/logging"
	"github.com/rwx-im/rwx-im/pkg/repository"
	"github.com/rwx-im/rwx-im/pkg/server"
	"github.com/rwx-im/rwx-im/pkg/verify"
)

// redisPingTimeout bounds the startup check of REDIS_URL.
const redisPingTimeout = 5 * time.Second

// ListenFunc binds a listener. net.Listen satisfies it.
type ListenFunc func(network, address string) (net.Listener, error)

// Options carries the injectable parts of Run.
type Options struct {
	// Listen defaults to net.Listen.
	Listen ListenFunc

	// OnReady is called with the bound listener address once serving starts.
	OnReady func(addr net.Addr)
}

// Run resolves the repository, then serves it until ctx is cancelled. A
// resolution failure is returned before any listener is bound.
func Run(ctx context.Context, cfg config.Config, opts Options) error {
	logging.Setup(cfg.Log)
	logger := logging.NewLogger("app")

	if opts.Listen == nil {
		opts.Listen = net.Listen
	}

	repo, err := repository.NewResolver(logging.NewLogger("repository")).Resolve(cfg.Location)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close cache repository")
		}
	}()

	lookups, closeLookups, err := newLookupStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLookups()

	srv := server.New(repo, lookups, cfg.Server)

	ln, err := opts.Listen("tcp", srv.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr(), err)
	}
	if opts.OnReady != nil {
		opts.OnReady(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("Server stopped")
	return nil
}

// newLookupStore builds the lookup cache: the in-process layer, backed by
// Redis when RedisURL is set.
func newLookupStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (cache.Store, func(), error) {
	layers := []cache.Store{cache.NewMemoryStore(cfg.MemoryEntries, cfg.Server.LookupTTL)}
	closeFn := func() {}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", config.EnvRedisURL, err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to Redis lookup cache")

		layers = append(layers, cache.NewManager(client))
		closeFn = func() {
			if err := client.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close Redis client")
			}
		}
	}

	return cache.NewTiered(layers...), closeFn, nil
}

// Verify opens the repository at cfg.Location and checks every stored chunk.
// It never creates a repository.
func Verify(ctx context.Context, cfg config.Config, vcfg verify.Config) (verify.Report, error) {
	logging.Setup(cfg.Log)

	location, err := filepath.Abs(cfg.Location)
	if err != nil {
		return verify.Report{}, err
	}
	repo, err := repository.Open(location)
	if err != nil {
		if errors.Is(err, dedup.ErrNotFound) {
			return verify.Report{}, fmt.Errorf("no cache repository at %s: %w", location, err)
		}
		return verify.Report{}, &repository.RepositoryOpenError{Location: location, Err: err}
	}
	defer repo.Close()

	return verify.NewChecker(repo, vcfg).Run(ctx)
}
