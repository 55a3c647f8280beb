package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Tiered checks its layers in order and backfills the faster ones on a hit.
// Writes and deletes go to every layer.
type Tiered struct {
	layers []Store
	logger zerolog.Logger
}

var _ Store = (*Tiered)(nil)

// NewTiered creates a store over layers, fastest first. Nil layers are skipped.
func NewTiered(layers ...Store) *Tiered {
	t := &Tiered{logger: log.With().Str("component", "lookup-cache").Logger()}
	for _, l := range layers {
		if l != nil {
			t.layers = append(t.layers, l)
		}
	}
	return t
}

// Get returns the entry from the first layer that has it. A failing layer is
// logged and skipped.
func (t *Tiered) Get(ctx context.Context, key Key) (*Entry, error) {
	for i, layer := range t.layers {
		entry, err := layer.Get(ctx, key)
		if errors.Is(err, ErrCacheMiss) {
			continue
		}
		if err != nil {
			t.logger.Warn().Err(err).Str("key", key.String()).Msg("Lookup cache get error")
			continue
		}

		for _, faster := range t.layers[:i] {
			if err := faster.Set(ctx, key, entry); err != nil {
				t.logger.Warn().Err(err).Str("key", key.String()).Msg("Lookup cache backfill error")
			}
		}
		return entry, nil
	}

	CacheMisses.Inc()
	return nil, ErrCacheMiss
}

// Set stores entry in every layer.
func (t *Tiered) Set(ctx context.Context, key Key, entry *Entry) error {
	var errs []error
	for _, layer := range t.layers {
		if err := layer.Set(ctx, key, entry); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key from every layer.
func (t *Tiered) Delete(ctx context.Context, key Key) error {
	var errs []error
	for _, layer := range t.layers {
		if err := layer.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
