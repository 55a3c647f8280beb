package verify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// ChunksVerified tracks verified chunks by result.
var ChunksVerified = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rwx_im_verify_chunks_total",
		Help: "Total number of verified chunks by result",
	},
	[]string{"result"}, // "ok", "failed"
)

// Config holds checker configuration
type Config struct {
	// MaxConcurrency is the number of chunks checked in parallel
	MaxConcurrency int
	// Timeout per chunk
	Timeout time.Duration
	// Buffer size for channels
	BufferSize int
	// ProgressEvery logs progress after this many chunks (0 disables)
	ProgressEvery int
}

// DefaultConfig returns the default checker configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 8,
		Timeout:        30 * time.Second,
		BufferSize:     256,
		ProgressEvery:  1000,
	}
}

// Repository is what the checker needs from a cache repository.
type Repository interface {
	// Chunks lists every stored chunk digest
	Chunks(ctx context.Context) ([]digest.Digest, error)
	// VerifyChunk decodes one chunk and checks it against its digest
	VerifyChunk(ctx context.Context, d digest.Digest) error
}

// Failure is a chunk that did not verify.
type Failure struct {
	Digest digest.Digest
	Err    error
}

// Report summarises a verification run.
type Report struct {
	Total    int
	Checked  int
	Failures []Failure
	Duration time.Duration
}

// OK reports whether every chunk was checked and none failed.
func (r Report) OK() bool {
	return r.Checked == r.Total && len(r.Failures) == 0
}

// Checker verifies chunks with a worker pool
type Checker struct {
	repo   Repository
	config Config
}

// NewChecker creates a new checker
func NewChecker(repo Repository, config Config) *Checker {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}

	return &Checker{
		repo:   repo,
		config: config,
	}
}

type result struct {
	digest digest.Digest
	err    error
}

// Run verifies every chunk. It returns a partial report and the context error
// when ctx is cancelled; damaged chunks are reported in Report.Failures, not
// as an error.
func (c *Checker) Run(ctx context.Context) (Report, error) {
	start := time.Now()

	chunks, err := c.repo.Chunks(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list chunks: %w", err)
	}

	report := Report{Total: len(chunks)}
	log.Info().
		Int("total_chunks", len(chunks)).
		Int("workers", c.config.MaxConcurrency).
		Msg("Starting repository verification")

	queue := make(chan digest.Digest, c.config.BufferSize)
	results := make(chan result, c.config.BufferSize)

	go func() {
		defer close(queue)
		for _, d := range chunks {
			select {
			case queue <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < c.config.MaxConcurrency; i++ {
		wg.Add(1)
		go c.worker(ctx, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		report.Checked++
		if res.err != nil {
			ChunksVerified.WithLabelValues("failed").Inc()
			report.Failures = append(report.Failures, Failure{Digest: res.digest, Err: res.err})
			log.Warn().
				Err(res.err).
				Str("digest", res.digest.String()).
				Msg("Chunk verification failed")
		} else {
			ChunksVerified.WithLabelValues("ok").Inc()
		}

		if c.config.ProgressEvery > 0 && report.Checked%c.config.ProgressEvery == 0 {
			log.Info().
				Int("checked", report.Checked).
				Int("total", report.Total).
				Float64("progress_pct", float64(report.Checked)/float64(report.Total)*100).
				Msg("Verification progress")
		}
	}

	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].Digest < report.Failures[j].Digest
	})
	report.Duration = time.Since(start)

	if err := ctx.Err(); err != nil && report.Checked < report.Total {
		log.Warn().
			Int("checked", report.Checked).
			Int("total", report.Total).
			Msg("Verification cancelled - returning partial report")
		return report, fmt.Errorf("verification cancelled (%d/%d chunks): %w", report.Checked, report.Total, err)
	}

	log.Info().
		Int("checked", report.Checked).
		Int("failed", len(report.Failures)).
		Dur("duration", report.Duration).
		Msg("Verification complete")

	return report, nil
}

// worker verifies chunks from the queue
func (c *Checker) worker(ctx context.Context, queue <-chan digest.Digest, results chan<- result, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for d := range queue {
		if ctx.Err() != nil {
			log.Debug().
				Int("worker_id", workerID).
				Int("chunks_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		chunkCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		err := c.repo.VerifyChunk(chunkCtx, d)
		cancel()

		// A cancelled run does not make the chunk damaged.
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return
		}

		results <- result{digest: d, err: err}
		processed++
	}

	if processed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("chunks_processed", processed).
			Msg("Worker completed")
	}
}
