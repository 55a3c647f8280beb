package dedup

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters for deriving the chunk key from the password.
const (
	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
	saltSize     = 16
)

// keyCheckPlaintext is sealed into the marker so Open can tell a wrong
// password apart from damaged chunks.
var keyCheckPlaintext = []byte("rwx-im key check")

// codec turns chunk plaintext into its at-rest form and back.
type codec struct {
	compression Compression
	aead        cipher.AEAD // nil unless encryption is enabled

	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec(compression Compression, aead cipher.AEAD) (*codec, error) {
	c := &codec{compression: compression, aead: aead}
	if compression == CompressionZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			enc.Close()
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		c.enc, c.dec = enc, dec
	}
	return c, nil
}

// encode compresses then encrypts.
func (c *codec) encode(plain []byte) ([]byte, error) {
	data := plain
	if c.enc != nil {
		data = c.enc.EncodeAll(plain, make([]byte, 0, len(plain)))
	}
	if c.aead == nil {
		return data, nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(data)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, data, nil), nil
}

// decode decrypts then decompresses.
func (c *codec) decode(stored []byte) ([]byte, error) {
	data := stored
	if c.aead != nil {
		ns := c.aead.NonceSize()
		if len(stored) < ns+c.aead.Overhead() {
			return nil, fmt.Errorf("%w: chunk shorter than nonce and tag", ErrCorrupt)
		}
		plain, err := c.aead.Open(nil, stored[:ns], stored[ns:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt chunk: %v", ErrCorrupt, err)
		}
		data = plain
	}
	if c.dec != nil {
		plain, err := c.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress chunk: %v", ErrCorrupt, err)
		}
		data = plain
	}
	return data, nil
}

func (c *codec) close() {
	if c.enc != nil {
		_ = c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}

// deriveAEAD builds the chunk cipher from a password and salt.
func deriveAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return aead, nil
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

func sealKeyCheck(aead cipher.AEAD) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, keyCheckPlaintext, nil), nil
}

func openKeyCheck(aead cipher.AEAD, sealed []byte) error {
	ns := aead.NonceSize()
	if len(sealed) < ns {
		return fmt.Errorf("%w: key check too short", ErrCorrupt)
	}
	if _, err := aead.Open(nil, sealed[:ns], sealed[ns:], nil); err != nil {
		return ErrBadPassword
	}
	return nil
}
