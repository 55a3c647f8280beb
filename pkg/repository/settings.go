package repository

import "github.com/rwx-im/rwx-im/pkg/dedup"

// DefaultSettings returns the storage policy every new cache repository is
// created with: BLAKE2b hashing, no compression, no encryption. The result
// does not depend on the environment.
func DefaultSettings() (dedup.Settings, error) {
	settings := dedup.NewSettings()

	if err := settings.SetHashing(dedup.HashingBlake2b); err != nil {
		return dedup.Settings{}, &ConfigurationError{Err: err}
	}
	if err := settings.SetCompression(dedup.CompressionNone); err != nil {
		return dedup.Settings{}, &ConfigurationError{Err: err}
	}
	if err := settings.SetEncryption(dedup.EncryptionNone); err != nil {
		return dedup.Settings{}, &ConfigurationError{Err: err}
	}

	return settings, nil
}
