// Package dedup implements a local content-addressed storage engine.
//
// A repository is a directory holding a marker file, encoded chunks, blob
// manifests and a name index:
//
//	<root>/config.yml        repository marker (format version and settings)
//	<root>/chunk/<ab>/<hex>  chunks, compressed then encrypted
//	<root>/blob/<ab>/<hex>   blob manifests (size and ordered chunk digests)
//	<root>/index.db          bbolt database mapping names to blobs
//	<root>/tmp/              staging area for atomic writes
//
// Content is split into fixed-size chunks. Every chunk and every manifest is
// stored under the digest of its plaintext, so identical content is stored
// once. Writes are write-once and land via rename, which makes concurrent
// duplicate writes safe without locking.
//
// # Lifecycle
//
// Open attaches to an existing repository and never modifies the location.
// Init creates a repository with the given Settings; the layout is staged in a
// sibling temporary directory and renamed into place, so a failed Init leaves
// nothing behind.
//
//	settings := dedup.NewSettings()
//	if err := settings.SetCompression(dedup.CompressionNone); err != nil {
//		return err
//	}
//	repo, err := dedup.Init("/var/cache/rwx", password, settings)
//
// Settings are persisted in the marker and are never re-negotiated on Open.
package dedup
