package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/opencontainers/go-digest"
	"golang.org/x/crypto/blake2b"
)

// Hashing selects the content hash used to address chunks and blobs.
type Hashing string

const (
	// HashingBlake2b is 256-bit BLAKE2b.
	HashingBlake2b Hashing = "blake2b"

	// HashingSHA256 is SHA-256.
	HashingSHA256 Hashing = "sha256"
)

// Compression selects how chunks are compressed at rest.
type Compression string

const (
	// CompressionNone stores chunks uncompressed.
	CompressionNone Compression = "none"

	// CompressionZstd compresses chunks with zstd.
	CompressionZstd Compression = "zstd"
)

// Encryption selects how chunks are protected at rest.
type Encryption string

const (
	// EncryptionNone stores chunks in the clear.
	EncryptionNone Encryption = "none"

	// EncryptionPassword encrypts chunks with a key derived from a password.
	EncryptionPassword Encryption = "password"
)

// Settings is the storage policy a repository is created with.
// The zero value is not valid; use NewSettings.
type Settings struct {
	hashing     Hashing
	compression Compression
	encryption  Encryption
}

// NewSettings returns the engine defaults: SHA-256, zstd and password encryption.
func NewSettings() Settings {
	return Settings{
		hashing:     HashingSHA256,
		compression: CompressionZstd,
		encryption:  EncryptionPassword,
	}
}

// SetHashing selects the hashing algorithm.
func (s *Settings) SetHashing(h Hashing) error {
	if !h.supported() {
		return fmt.Errorf("%w: hashing %q", ErrUnsupportedSettings, h)
	}
	s.hashing = h
	return nil
}

// SetCompression selects the compression mode.
func (s *Settings) SetCompression(c Compression) error {
	if !c.supported() {
		return fmt.Errorf("%w: compression %q", ErrUnsupportedSettings, c)
	}
	s.compression = c
	return nil
}

// SetEncryption selects the encryption mode.
func (s *Settings) SetEncryption(e Encryption) error {
	if !e.supported() {
		return fmt.Errorf("%w: encryption %q", ErrUnsupportedSettings, e)
	}
	s.encryption = e
	return nil
}

// Hashing returns the selected hashing algorithm.
func (s Settings) Hashing() Hashing { return s.hashing }

// Compression returns the selected compression mode.
func (s Settings) Compression() Compression { return s.compression }

// Encryption returns the selected encryption mode.
func (s Settings) Encryption() Encryption { return s.encryption }

// String renders the settings as hashing/compression/encryption.
func (s Settings) String() string {
	return fmt.Sprintf("%s/%s/%s", s.hashing, s.compression, s.encryption)
}

func (s Settings) validate() error {
	if !s.hashing.supported() {
		return fmt.Errorf("%w: hashing %q", ErrUnsupportedSettings, s.hashing)
	}
	if !s.compression.supported() {
		return fmt.Errorf("%w: compression %q", ErrUnsupportedSettings, s.compression)
	}
	if !s.encryption.supported() {
		return fmt.Errorf("%w: encryption %q", ErrUnsupportedSettings, s.encryption)
	}
	return nil
}

func (h Hashing) supported() bool {
	return h == HashingBlake2b || h == HashingSHA256
}

func (c Compression) supported() bool {
	return c == CompressionNone || c == CompressionZstd
}

func (e Encryption) supported() bool {
	return e == EncryptionNone || e == EncryptionPassword
}

// digestSize is the length in bytes of every supported hash output.
const digestSize = 32

func (h Hashing) newHash() hash.Hash {
	if h == HashingBlake2b {
		// New256 only fails for keys longer than 64 bytes.
		hh, _ := blake2b.New256(nil)
		return hh
	}
	return sha256.New()
}

// Digest hashes data with the selected algorithm.
func (h Hashing) Digest(data []byte) digest.Digest {
	hh := h.newHash()
	hh.Write(data)
	return h.fromHash(hh)
}

func (h Hashing) fromHash(hh hash.Hash) digest.Digest {
	return digest.NewDigestFromEncoded(digest.Algorithm(h), hex.EncodeToString(hh.Sum(nil)))
}

// checkDigest verifies d was produced by this hashing algorithm.
func (h Hashing) checkDigest(d digest.Digest) error {
	if !strings.Contains(string(d), ":") {
		return fmt.Errorf("%w: %q has no algorithm", ErrInvalidDigest, d)
	}
	if d.Algorithm() != digest.Algorithm(h) {
		return fmt.Errorf("%w: %q is not a %s digest", ErrInvalidDigest, d, h)
	}
	raw, err := hex.DecodeString(d.Encoded())
	if err != nil || len(raw) != digestSize || hex.EncodeToString(raw) != d.Encoded() {
		return fmt.Errorf("%w: %q", ErrInvalidDigest, d)
	}
	return nil
}
