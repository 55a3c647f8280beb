package cache

import (
	"net/url"
	"strings"

	"github.com/rwx-im/rwx-im/pkg/address"
)

// KeyPrefix starts every lookup key.
const KeyPrefix = "rwx"

// Key identifies a cached address lookup.
type Key struct {
	// Owner is the address owner (e.g., "alice")
	Owner string

	// Tail is the verbatim address tail (e.g., "docs/readme.txt")
	Tail string
}

// KeyFor returns the key for addr.
func KeyFor(addr address.Address) Key {
	return Key{Owner: addr.Owner, Tail: addr.Tail}
}

// String generates a deterministic key string.
// Format: rwx:<escaped owner>:<tail>
//
// The owner is query-escaped so a ':' in it cannot shift the separator.
//
// Example:
//
//	rwx:alice:docs/readme.txt
func (k Key) String() string {
	return strings.Join([]string{KeyPrefix, url.QueryEscape(k.Owner), k.Tail}, ":")
}
