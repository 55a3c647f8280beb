package dedup

import (
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"
)

// formatVersion is the on-disk layout version written by Init.
const formatVersion = 1

// DefaultChunkSize is the size content is split at (1 MiB).
const DefaultChunkSize = 1 << 20

// maxChunkSize bounds the chunk buffer a marker may ask Write to allocate.
const maxChunkSize = 64 << 20

const (
	markerFile = "config.yml"
	indexFile  = "index.db"
	chunkDir   = "chunk"
	blobDir    = "blob"
	tmpDir     = "tmp"
)

// marker is the repository marker persisted as config.yml.
type marker struct {
	Version     int              `yaml:"version"`
	Hashing     Hashing          `yaml:"hashing"`
	Compression Compression      `yaml:"compression"`
	Encryption  encryptionConfig `yaml:"encryption"`
	ChunkSize   int              `yaml:"chunk_size"`
}

type encryptionConfig struct {
	Type Encryption `yaml:"type"`
	// Salt and Check are hex encoded; set only for password encryption.
	Salt  string `yaml:"salt,omitempty"`
	Check string `yaml:"check,omitempty"`
}

func (m marker) settings() Settings {
	return Settings{
		hashing:     m.Hashing,
		compression: m.Compression,
		encryption:  m.Encryption.Type,
	}
}

func encodeMarker(m marker) ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode marker: %w", err)
	}
	return data, nil
}

// decodeMarker parses and validates a marker. Every failure wraps ErrCorrupt.
func decodeMarker(data []byte) (marker, error) {
	var m marker
	if err := yaml.Unmarshal(data, &m); err != nil {
		return marker{}, fmt.Errorf("%w: parse %s: %v", ErrCorrupt, markerFile, err)
	}
	if m.Version != formatVersion {
		return marker{}, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, m.Version)
	}
	if err := m.settings().validate(); err != nil {
		return marker{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if m.ChunkSize <= 0 || m.ChunkSize > maxChunkSize {
		return marker{}, fmt.Errorf("%w: invalid chunk size %d", ErrCorrupt, m.ChunkSize)
	}
	if m.Encryption.Type == EncryptionPassword {
		if _, err := hex.DecodeString(m.Encryption.Salt); err != nil || m.Encryption.Salt == "" {
			return marker{}, fmt.Errorf("%w: invalid encryption salt", ErrCorrupt)
		}
		if _, err := hex.DecodeString(m.Encryption.Check); err != nil || m.Encryption.Check == "" {
			return marker{}, fmt.Errorf("%w: invalid key check", ErrCorrupt)
		}
	}
	return m, nil
}
