package dedup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

var bucketNames = []byte("names")

// lockTimeout bounds the wait for the index file lock held by another process.
var lockTimeout = 2 * time.Second

// NameRecord is the blob a name is bound to.
type NameRecord struct {
	Digest   digest.Digest `json:"digest"`
	Size     int64         `json:"size"`
	StoredAt time.Time     `json:"stored_at"`
}

// sharedIndex is a bbolt handle shared by every Repo opened on the same root
// within this process. bbolt holds an exclusive file lock, so a second
// bbolt.Open on the same file would block.
type sharedIndex struct {
	path string
	db   *bbolt.DB
	refs int
}

var indexes = struct {
	sync.Mutex
	open map[string]*sharedIndex
}{open: make(map[string]*sharedIndex)}

// acquireIndex opens (or re-uses) the index at path. It never creates the file.
func acquireIndex(path string) (*sharedIndex, error) {
	indexes.Lock()
	defer indexes.Unlock()

	if idx, ok := indexes.open[path]; ok {
		idx.refs++
		return idx, nil
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: missing %s", ErrCorrupt, indexFile)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case err != nil:
		return nil, fmt.Errorf("%w: stat %s: %v", ErrCorrupt, indexFile, err)
	case info.Size() == 0:
		// bbolt would silently initialise an empty file.
		return nil, fmt.Errorf("%w: empty %s", ErrCorrupt, indexFile)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s is locked by another process", ErrInUse, indexFile)
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrCorrupt, indexFile, err)
	}

	err = db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketNames) == nil {
			return fmt.Errorf("%w: %s has no %q bucket", ErrCorrupt, indexFile, bucketNames)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	idx := &sharedIndex{path: path, db: db, refs: 1}
	indexes.open[path] = idx
	return idx, nil
}

func (idx *sharedIndex) release() error {
	indexes.Lock()
	defer indexes.Unlock()

	idx.refs--
	if idx.refs > 0 {
		return nil
	}
	delete(indexes.open, idx.path)
	return idx.db.Close()
}

// createIndex writes a fresh index with its buckets at path.
func createIndex(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		return fmt.Errorf("create %s: %w", indexFile, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNames); err != nil {
			return fmt.Errorf("create bucket %q: %w", bucketNames, err)
		}
		return nil
	})
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	return err
}

// Bind points name at rec. It reports whether the binding changed.
func (r *Repo) Bind(name string, rec NameRecord) (bool, error) {
	if name == "" {
		return false, ErrInvalidName
	}
	if err := r.settings.hashing.checkDigest(rec.Digest); err != nil {
		return false, err
	}
	idx, err := r.handle()
	if err != nil {
		return false, err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode name record: %w", err)
	}

	changed := true
	err = idx.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNames)
		if prev := b.Get([]byte(name)); prev != nil {
			var old NameRecord
			if err := json.Unmarshal(prev, &old); err == nil && old.Digest == rec.Digest {
				changed = false
				return nil
			}
		}
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return false, fmt.Errorf("bind %q: %w", name, err)
	}
	return changed, nil
}

// Lookup returns the record bound to name.
func (r *Repo) Lookup(name string) (NameRecord, error) {
	if name == "" {
		return NameRecord{}, ErrInvalidName
	}
	idx, err := r.handle()
	if err != nil {
		return NameRecord{}, err
	}

	var rec NameRecord
	err = idx.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketNames).Get([]byte(name))
		if data == nil {
			return ErrNameNotFound
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("%w: decode name record %q: %v", ErrCorrupt, name, err)
		}
		return nil
	})
	if err != nil {
		return NameRecord{}, err
	}
	return rec, nil
}
