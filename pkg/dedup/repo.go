package dedup

import (
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// reopen attaches to a freshly initialized repository.
var reopen = Open

// PasswordFunc supplies the repository password on demand. It is only called
// when the repository uses password encryption.
type PasswordFunc func() (string, error)

// Repo is an open content-addressed repository. It is safe for concurrent use.
type Repo struct {
	root      string
	settings  Settings
	chunkSize int
	codec     *codec

	mu    sync.RWMutex
	index *sharedIndex // nil after Close
}

// Open attaches to the repository at location. It never creates or modifies
// anything at location.
//
// Errors wrap ErrNotFound when location does not exist or has no marker,
// ErrPermissionDenied when it cannot be read, and ErrCorrupt when the marker
// is present but the repository is invalid, and ErrInUse when another
// process holds the index.
func Open(location string, password PasswordFunc) (*Repo, error) {
	root, err := filepath.Abs(location)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %v", ErrNotFound, location, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, classifyStat(root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, root)
	}

	data, err := os.ReadFile(filepath.Join(root, markerFile))
	if err != nil {
		return nil, classifyStat(filepath.Join(root, markerFile), err)
	}
	m, err := decodeMarker(data)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{chunkDir, blobDir, tmpDir} {
		info, err := os.Stat(filepath.Join(root, dir))
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: missing %s directory", ErrCorrupt, dir)
		}
	}

	var aead cipher.AEAD
	if m.Encryption.Type == EncryptionPassword {
		aead, err = unlock(m.Encryption, password)
		if err != nil {
			return nil, err
		}
	}

	c, err := newCodec(m.Compression, aead)
	if err != nil {
		return nil, err
	}

	idx, err := acquireIndex(filepath.Join(root, indexFile))
	if err != nil {
		c.close()
		return nil, err
	}

	return &Repo{
		root:      root,
		settings:  m.settings(),
		chunkSize: m.ChunkSize,
		codec:     c,
		index:     idx,
	}, nil
}

// Init creates a repository at location with the given settings and opens it.
// location must not exist or be an empty directory. password must be non-nil
// even when settings select no encryption; it is only called when encryption
// is enabled.
//
// Errors wrap ErrAlreadyExists, ErrUnwritable or ErrUnsupportedSettings. A
// failed Init leaves location as it was.
func Init(location string, password PasswordFunc, settings Settings) (*Repo, error) {
	if password == nil {
		return nil, ErrPasswordRequired
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(location)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %v", ErrUnwritable, location, err)
	}
	if err := checkInitTarget(root); err != nil {
		return nil, err
	}
	_, statErr := os.Lstat(root)
	existed := statErr == nil

	parent := filepath.Dir(root)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwritable, err)
	}
	staging, err := os.MkdirTemp(parent, ".rwx-init-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwritable, err)
	}

	if err := populate(staging, password, settings); err != nil {
		_ = os.RemoveAll(staging)
		return nil, err
	}

	if err := os.Rename(staging, root); err != nil {
		_ = os.RemoveAll(staging)
		if errors.Is(err, fs.ErrExist) || errors.Is(err, syscall.ENOTEMPTY) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, root)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnwritable, err)
	}

	repo, err := reopen(root, password)
	if err != nil {
		// The layout is in place but unusable; do not leave it behind as a
		// repository.
		_ = os.RemoveAll(root)
		if existed {
			_ = os.Mkdir(root, 0o755)
		}
		return nil, fmt.Errorf("%w: reopen after init: %w", ErrUnwritable, err)
	}
	return repo, nil
}

// populate writes a complete repository layout into dir. The marker is
// written last.
func populate(dir string, password PasswordFunc, settings Settings) error {
	for _, sub := range []string{chunkDir, blobDir, tmpDir} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrUnwritable, err)
		}
	}
	if err := createIndex(filepath.Join(dir, indexFile)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	}

	m := marker{
		Version:     formatVersion,
		Hashing:     settings.hashing,
		Compression: settings.compression,
		Encryption:  encryptionConfig{Type: settings.encryption},
		ChunkSize:   DefaultChunkSize,
	}
	if settings.encryption == EncryptionPassword {
		enc, err := newEncryptionConfig(password)
		if err != nil {
			return err
		}
		m.Encryption = enc
	}

	data, err := encodeMarker(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, markerFile), data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	}
	return nil
}

func newEncryptionConfig(password PasswordFunc) (encryptionConfig, error) {
	pw, err := password()
	if err != nil {
		return encryptionConfig{}, fmt.Errorf("%w: password: %v", ErrUnsupportedSettings, err)
	}
	salt, err := newSalt()
	if err != nil {
		return encryptionConfig{}, err
	}
	aead, err := deriveAEAD(pw, salt)
	if err != nil {
		return encryptionConfig{}, err
	}
	check, err := sealKeyCheck(aead)
	if err != nil {
		return encryptionConfig{}, err
	}
	return encryptionConfig{
		Type:  EncryptionPassword,
		Salt:  hex.EncodeToString(salt),
		Check: hex.EncodeToString(check),
	}, nil
}

func unlock(enc encryptionConfig, password PasswordFunc) (cipher.AEAD, error) {
	if password == nil {
		return nil, ErrPasswordRequired
	}
	pw, err := password()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPassword, err)
	}
	// decodeMarker already validated the hex.
	salt, _ := hex.DecodeString(enc.Salt)
	check, _ := hex.DecodeString(enc.Check)
	aead, err := deriveAEAD(pw, salt)
	if err != nil {
		return nil, err
	}
	if err := openKeyCheck(aead, check); err != nil {
		return nil, err
	}
	return aead, nil
}

// checkInitTarget allows only a missing location or an empty directory.
func checkInitTarget(root string) error {
	info, err := os.Lstat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return nil
	case err != nil:
		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	case !info.IsDir():
		return fmt.Errorf("%w: %s is not a directory", ErrAlreadyExists, root)
	}

	f, err := os.Open(root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); !errors.Is(err, io.EOF) {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnwritable, err)
		}
		return fmt.Errorf("%w: %s is not empty", ErrAlreadyExists, root)
	}
	return nil
}

// classifyStat maps a filesystem error on a repository path to an engine error.
func classifyStat(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
}

// Root returns the absolute repository location.
func (r *Repo) Root() string { return r.root }

// Settings returns the settings the repository was created with.
func (r *Repo) Settings() Settings { return r.settings }

// Close releases the repository. Other Repo values for the same root stay usable.
func (r *Repo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index == nil {
		return nil
	}
	err := r.index.release()
	r.index = nil
	r.codec.close()
	return err
}

func (r *Repo) handle() (*sharedIndex, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.index == nil {
		return nil, ErrClosed
	}
	return r.index, nil
}
