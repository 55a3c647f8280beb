package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/rwx-im/rwx-im/pkg/address"
	"github.com/rwx-im/rwx-im/pkg/dedup"
	"github.com/rwx-im/rwx-im/pkg/repository"
)

// fakeRepository verifies chunks from a fixed table.
type fakeRepository struct {
	chunks   []digest.Digest
	bad      map[digest.Digest]error
	listErr  error
	delay    time.Duration
	verified atomic.Int64
}

func (f *fakeRepository) Chunks(context.Context) ([]digest.Digest, error) {
	return f.chunks, f.listErr
}

func (f *fakeRepository) VerifyChunk(ctx context.Context, d digest.Digest) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.verified.Add(1)
	return f.bad[d]
}

func fakeChunks(n int) []digest.Digest {
	out := make([]digest.Digest, n)
	for i := range out {
		out[i] = digest.FromString(fmt.Sprintf("chunk-%d", i))
	}
	return out
}

func TestChecker_AllChunksOK(t *testing.T) {
	repo := &fakeRepository{chunks: fakeChunks(100)}
	checker := NewChecker(repo, Config{MaxConcurrency: 4})

	report, err := checker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.OK() {
		t.Errorf("report not OK: %+v", report)
	}
	if report.Total != 100 || report.Checked != 100 {
		t.Errorf("Total/Checked = %d/%d, want 100/100", report.Total, report.Checked)
	}
	if got := repo.verified.Load(); got != 100 {
		t.Errorf("verified %d chunks, want 100", got)
	}
}

func TestChecker_ReportsEveryFailure(t *testing.T) {
	chunks := fakeChunks(20)
	repo := &fakeRepository{
		chunks: chunks,
		bad: map[digest.Digest]error{
			chunks[3]:  dedup.ErrCorrupt,
			chunks[11]: dedup.ErrCorrupt,
		},
	}
	checker := NewChecker(repo, Config{MaxConcurrency: 3})

	report, err := checker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.OK() {
		t.Fatal("report should not be OK")
	}
	if report.Checked != 20 {
		t.Errorf("Checked = %d, want 20", report.Checked)
	}
	if len(report.Failures) != 2 {
		t.Fatalf("Failures = %d, want 2", len(report.Failures))
	}
	for _, f := range report.Failures {
		if f.Digest != chunks[3] && f.Digest != chunks[11] {
			t.Errorf("unexpected failure for %s", f.Digest)
		}
		if !errors.Is(f.Err, dedup.ErrCorrupt) {
			t.Errorf("failure error = %v, want ErrCorrupt", f.Err)
		}
	}
	if report.Failures[0].Digest > report.Failures[1].Digest {
		t.Error("failures not sorted by digest")
	}
}

func TestChecker_ListError(t *testing.T) {
	listErr := errors.New("walk failed")
	checker := NewChecker(&fakeRepository{listErr: listErr}, DefaultConfig())

	_, err := checker.Run(context.Background())
	if !errors.Is(err, listErr) {
		t.Errorf("Run error = %v, want %v", err, listErr)
	}
}

func TestChecker_Cancelled(t *testing.T) {
	repo := &fakeRepository{chunks: fakeChunks(50), delay: 20 * time.Millisecond}
	checker := NewChecker(repo, Config{MaxConcurrency: 2, BufferSize: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := checker.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want deadline exceeded", err)
	}
	if report.Checked >= report.Total {
		t.Errorf("Checked = %d of %d, want a partial report", report.Checked, report.Total)
	}
	if len(report.Failures) != 0 {
		t.Errorf("cancellation reported as failures: %+v", report.Failures)
	}
}

func TestNewChecker_Defaults(t *testing.T) {
	checker := NewChecker(&fakeRepository{}, Config{})
	if checker.config.MaxConcurrency <= 0 || checker.config.Timeout <= 0 || checker.config.BufferSize <= 0 {
		t.Errorf("defaults not applied: %+v", checker.config)
	}
}

func TestChecker_RealRepository(t *testing.T) {
	settings, err := repository.DefaultSettings()
	if err != nil {
		t.Fatalf("DefaultSettings: %v", err)
	}
	cache, err := repository.Init(filepath.Join(t.TempDir(), "cache"), settings)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	for i, body := range []string{"first", "second", "third"} {
		addr, _ := address.New("alice", fmt.Sprintf("f%d", i))
		if _, _, err := cache.Store(ctx, addr, strings.NewReader(body)); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	checker := NewChecker(cache, DefaultConfig())
	report, err := checker.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.OK() || report.Total != 3 {
		t.Fatalf("clean repository report = %+v", report)
	}

	// Damage one chunk on disk.
	victim := dedup.HashingBlake2b.Digest([]byte("second"))
	enc := victim.Encoded()
	path := filepath.Join(cache.Location(), "chunk", enc[:2], enc)
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	report, err = checker.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Failures) != 1 || report.Failures[0].Digest != victim {
		t.Errorf("Failures = %+v, want only %s", report.Failures, victim)
	}
}
