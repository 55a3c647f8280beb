package dedup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Digest digest.Digest
	Size   int64
}

// manifest lists the chunks a blob is made of, in order.
type manifest struct {
	Size   int64           `json:"size"`
	Chunks []digest.Digest `json:"chunks"`
}

// Write stores everything read from src and returns the digest of the
// content. Storing content that is already present is a no-op.
func (r *Repo) Write(ctx context.Context, src io.Reader) (BlobInfo, error) {
	if _, err := r.handle(); err != nil {
		return BlobInfo{}, err
	}

	whole := r.settings.hashing.newHash()
	var m manifest
	buf := make([]byte, r.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return BlobInfo{}, err
		}
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			chunk := buf[:n]
			whole.Write(chunk)
			d, werr := r.putChunk(chunk)
			if werr != nil {
				return BlobInfo{}, werr
			}
			m.Chunks = append(m.Chunks, d)
			m.Size += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return BlobInfo{}, fmt.Errorf("read content: %w", err)
		}
	}

	info := BlobInfo{Digest: r.settings.hashing.fromHash(whole), Size: m.Size}
	if ok, err := r.Has(info.Digest); err == nil && ok {
		return info, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := r.writeOnce(r.objectPath(blobDir, info.Digest), data); err != nil {
		return BlobInfo{}, err
	}
	return info, nil
}

// Read returns the content stored under d, verified against d.
func (r *Repo) Read(ctx context.Context, d digest.Digest) ([]byte, error) {
	if _, err := r.handle(); err != nil {
		return nil, err
	}
	if err := r.settings.hashing.checkDigest(d); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(r.objectPath(blobDir, d))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, d)
		}
		return nil, fmt.Errorf("read manifest %s: %w", d, err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest %s: %v", ErrCorrupt, d, err)
	}

	if m.Size < 0 {
		return nil, fmt.Errorf("%w: manifest %s has negative size", ErrCorrupt, d)
	}

	var out bytes.Buffer
	for _, cd := range m.Chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := r.getChunk(cd)
		if err != nil {
			return nil, err
		}
		out.Write(chunk)
	}

	if int64(out.Len()) != m.Size {
		return nil, fmt.Errorf("%w: blob %s has %d bytes, manifest says %d", ErrCorrupt, d, out.Len(), m.Size)
	}
	if got := r.settings.hashing.Digest(out.Bytes()); got != d {
		return nil, fmt.Errorf("%w: blob %s hashes to %s", ErrCorrupt, d, got)
	}
	return out.Bytes(), nil
}

// Has reports whether a blob is stored under d.
func (r *Repo) Has(d digest.Digest) (bool, error) {
	if err := r.settings.hashing.checkDigest(d); err != nil {
		return false, err
	}
	_, err := os.Stat(r.objectPath(blobDir, d))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Chunks lists the digests of every stored chunk.
func (r *Repo) Chunks(ctx context.Context) ([]digest.Digest, error) {
	if _, err := r.handle(); err != nil {
		return nil, err
	}
	alg := digest.Algorithm(r.settings.hashing)
	var out []digest.Digest
	err := filepath.WalkDir(filepath.Join(r.root, chunkDir), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		out = append(out, digest.NewDigestFromEncoded(alg, d.Name()))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return out, nil
}

// VerifyChunk decodes the chunk stored under d and checks it hashes to d.
func (r *Repo) VerifyChunk(ctx context.Context, d digest.Digest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := r.handle(); err != nil {
		return err
	}
	_, err := r.getChunk(d)
	return err
}

func (r *Repo) putChunk(chunk []byte) (digest.Digest, error) {
	d := r.settings.hashing.Digest(chunk)
	path := r.objectPath(chunkDir, d)
	if _, err := os.Stat(path); err == nil {
		return d, nil
	}
	encoded, err := r.codec.encode(chunk)
	if err != nil {
		return "", err
	}
	if err := r.writeOnce(path, encoded); err != nil {
		return "", err
	}
	return d, nil
}

func (r *Repo) getChunk(d digest.Digest) ([]byte, error) {
	if err := r.settings.hashing.checkDigest(d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	stored, err := os.ReadFile(r.objectPath(chunkDir, d))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: missing chunk %s", ErrCorrupt, d)
		}
		return nil, fmt.Errorf("read chunk %s: %w", d, err)
	}
	plain, err := r.codec.decode(stored)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", d, err)
	}
	if got := r.settings.hashing.Digest(plain); got != d {
		return nil, fmt.Errorf("%w: chunk %s hashes to %s", ErrCorrupt, d, got)
	}
	return plain, nil
}

// objectPath shards objects by the first byte of the digest: <kind>/<ab>/<abcd...>.
func (r *Repo) objectPath(kind string, d digest.Digest) string {
	enc := d.Encoded()
	return filepath.Join(r.root, kind, enc[:2], enc)
}

// writeOnce atomically creates path with data unless it already exists.
func (r *Repo) writeOnce(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Join(r.root, tmpDir), "write-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", strings.TrimPrefix(path, r.root), err)
	}
	return nil
}
