// Package repository owns the lifecycle of the local cache repository.
//
// A Cache is a content-addressed store rooted at one filesystem location. The
// Resolver turns a location into a ready Cache on startup: it opens an
// existing repository and, only when the location holds no repository at all,
// initializes a new one with the fixed settings returned by DefaultSettings.
// A repository that exists but cannot be opened is never initialized over.
//
//	resolver := repository.NewResolver(logging.NewLogger("repository"))
//	cache, err := resolver.Resolve("cache")
//	if err != nil {
//		return err // *RepositoryOpenError, *RepositoryInitError or *ConfigurationError
//	}
//	defer cache.Close()
//
// The Cache also implements ContentStore, the lookup surface the serving
// layer resolves resource addresses through.
package repository
