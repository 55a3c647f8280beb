package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, Key) (*Entry, error) { return nil, errors.New("down") }
func (failingStore) Set(context.Context, Key, *Entry) error    { return errors.New("down") }
func (failingStore) Delete(context.Context, Key) error         { return errors.New("down") }

func TestTiered_BackfillsFasterLayer(t *testing.T) {
	fast := NewMemoryStore(8, time.Minute)
	slow := NewMemoryStore(8, time.Minute)
	tiered := NewTiered(fast, slow)
	ctx := context.Background()
	key := Key{Owner: "alice", Tail: "a"}

	if err := slow.Set(ctx, key, NewEntry(testDigest, 1, time.Now(), time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := tiered.Get(ctx, key); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := fast.Get(ctx, key); err != nil {
		t.Errorf("fast layer not backfilled: %v", err)
	}
}

func TestTiered_SetAndDeleteAllLayers(t *testing.T) {
	a := NewMemoryStore(8, time.Minute)
	b := NewMemoryStore(8, time.Minute)
	tiered := NewTiered(a, nil, b)
	ctx := context.Background()
	key := Key{Owner: "bob"}

	if err := tiered.Set(ctx, key, NewEntry(testDigest, 1, time.Now(), time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	for i, layer := range []Store{a, b} {
		if _, err := layer.Get(ctx, key); err != nil {
			t.Errorf("layer %d missing entry: %v", i, err)
		}
	}

	if err := tiered.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := tiered.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestTiered_SkipsFailingLayer(t *testing.T) {
	mem := NewMemoryStore(8, time.Minute)
	tiered := NewTiered(failingStore{}, mem)
	ctx := context.Background()
	key := Key{Owner: "carol"}

	if err := tiered.Set(ctx, key, NewEntry(testDigest, 1, time.Now(), time.Minute)); err == nil {
		t.Error("Set should report the failing layer")
	}
	if _, err := tiered.Get(ctx, key); err != nil {
		t.Errorf("Get should fall through to the working layer: %v", err)
	}
}

func TestTiered_NoLayers(t *testing.T) {
	if _, err := NewTiered().Get(context.Background(), Key{}); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}
