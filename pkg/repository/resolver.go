package repository

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rwx-im/rwx-im/pkg/dedup"
)

// State is a step of a single resolution.
type State int

const (
	StateUnresolved State = iota
	StateOpenAttempted
	StateInitAttempted
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateOpenAttempted:
		return "open_attempted"
	case StateInitAttempted:
		return "init_attempted"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// Resolution records what a Resolve call did.
type Resolution struct {
	Location string
	Path     []State // every state entered, starting with StateUnresolved
	Err      error
}

// Final returns the last state entered.
func (r Resolution) Final() State {
	if len(r.Path) == 0 {
		return StateUnresolved
	}
	return r.Path[len(r.Path)-1]
}

// Created reports whether the resolution initialized a new repository.
func (r Resolution) Created() bool {
	return r.Final() == StateReady && containsState(r.Path, StateInitAttempted)
}

func containsState(path []State, s State) bool {
	for _, p := range path {
		if p == s {
			return true
		}
	}
	return false
}

// openResult discriminates the three ways an open attempt can end. Only
// openAbsent leads to initialization.
type openResult int

const (
	openPresent openResult = iota
	openAbsent
	openFailed
)

func (o openResult) String() string {
	switch o {
	case openPresent:
		return "present"
	case openAbsent:
		return "absent"
	default:
		return "failed"
	}
}

type openOutcome struct {
	result openResult
	cache  *Cache
	err    error
}

func classifyOpen(c *Cache, err error) openOutcome {
	switch {
	case err == nil:
		return openOutcome{result: openPresent, cache: c}
	case errors.Is(err, dedup.ErrNotFound):
		return openOutcome{result: openAbsent, err: err}
	default:
		return openOutcome{result: openFailed, err: err}
	}
}

// TransitionFunc observes each state change of a resolution.
type TransitionFunc func(location string, from, to State)

// Resolver turns a location into a ready Cache: open, and initialize only
// when nothing exists there. Each Resolve call is a single attempt with no
// retries.
type Resolver struct {
	logger zerolog.Logger

	open     func(location string) (*Cache, error)
	init     func(location string, settings dedup.Settings) (*Cache, error)
	settings func() (dedup.Settings, error)

	onTransition TransitionFunc

	mu   sync.Mutex
	last Resolution
}

// NewResolver creates a Resolver that logs transitions to logger.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{
		logger:   logger,
		open:     Open,
		init:     Init,
		settings: DefaultSettings,
	}
}

// SetOnTransition installs a hook called on every state change.
func (r *Resolver) SetOnTransition(fn TransitionFunc) {
	r.onTransition = fn
}

// Last returns the record of the most recent Resolve call.
func (r *Resolver) Last() Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.last
	res.Path = append([]State(nil), r.last.Path...)
	return res
}

// Resolve returns a ready Cache for location. A relative location is
// resolved against the working directory.
//
// Errors are *RepositoryOpenError when an existing location cannot be
// attached, *RepositoryInitError when a new repository cannot be created and
// *ConfigurationError when the default settings are rejected. All of them
// match ErrRepository.
func (r *Resolver) Resolve(location string) (*Cache, error) {
	res := Resolution{Path: []State{StateUnresolved}}
	defer func() {
		r.mu.Lock()
		r.last = res
		r.mu.Unlock()
	}()

	abs, err := filepath.Abs(location)
	if err != nil {
		res.Location = location
		r.transition(&res, StateFailed)
		res.Err = &RepositoryOpenError{Location: location, Err: err}
		Resolutions.WithLabelValues("open_failed").Inc()
		return nil, res.Err
	}
	res.Location = abs
	logger := r.logger.With().Str("location", abs).Logger()

	r.transition(&res, StateOpenAttempted)
	outcome := classifyOpen(r.open(abs))
	logger.Trace().Stringer("outcome", outcome.result).Msg("Open attempt finished")

	switch outcome.result {
	case openPresent:
		r.transition(&res, StateReady)
		Resolutions.WithLabelValues("opened").Inc()
		logger.Info().Msg("Attached to existing cache repository")
		return outcome.cache, nil

	case openAbsent:
		r.transition(&res, StateInitAttempted)
		cache, err := r.initialize(abs)
		if err != nil {
			r.transition(&res, StateFailed)
			res.Err = err
			Resolutions.WithLabelValues("init_failed").Inc()
			logger.Error().Err(err).Msg("Could not initialize cache repository")
			return nil, err
		}
		r.transition(&res, StateReady)
		Resolutions.WithLabelValues("created").Inc()
		logger.Info().Stringer("settings", cache.Settings()).Msg("Created cache repository")
		return cache, nil

	default:
		r.transition(&res, StateFailed)
		res.Err = &RepositoryOpenError{Location: abs, Err: outcome.err}
		Resolutions.WithLabelValues("open_failed").Inc()
		logger.Error().Err(outcome.err).Msg("Could not open cache repository")
		return nil, res.Err
	}
}

func (r *Resolver) initialize(location string) (*Cache, error) {
	settings, err := r.settings()
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, cfgErr
		}
		return nil, &ConfigurationError{Err: err}
	}

	cache, err := r.init(location, settings)
	if err != nil {
		return nil, &RepositoryInitError{Location: location, Err: err}
	}
	return cache, nil
}

func (r *Resolver) transition(res *Resolution, to State) {
	from := res.Final()
	res.Path = append(res.Path, to)

	r.logger.Debug().
		Str("location", res.Location).
		Stringer("from", from).
		Stringer("state", to).
		Msg("Repository resolver transition")

	if r.onTransition != nil {
		r.onTransition(res.Location, from, to)
	}
}
