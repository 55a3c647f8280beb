// Package address parses resource addresses out of request paths.
//
// A resource address names a cached resource as an owner plus a verbatim
// path tail, written /~<owner>/<tail...> on the wire.
package address

import (
	"errors"
	"fmt"
	"strings"
)

// Marker introduces the owner segment of a resource path.
const Marker = "/~"

// ErrMalformedPath indicates a path that starts with Marker but has no valid owner.
var ErrMalformedPath = errors.New("malformed resource path")

// Kind tells a resource path apart from everything else.
type Kind int

const (
	// KindIndex is any path that does not name a resource, including "/".
	KindIndex Kind = iota

	// KindResource is a path of the form /~<owner>/<tail...>.
	KindResource
)

func (k Kind) String() string {
	if k == KindResource {
		return "resource"
	}
	return "index"
}

// Address identifies a resource by owner and tail.
type Address struct {
	// Owner is a single non-empty path segment.
	Owner string

	// Tail is the remainder of the path, possibly empty, possibly containing "/".
	Tail string
}

// Target is the result of parsing a request path. Address is only set for
// KindResource.
type Target struct {
	Kind    Kind
	Address Address
}

// New builds an Address, rejecting owners that could not round-trip through Parse.
func New(owner, tail string) (Address, error) {
	if owner == "" || strings.Contains(owner, "/") {
		return Address{}, fmt.Errorf("%w: invalid owner %q", ErrMalformedPath, owner)
	}
	return Address{Owner: owner, Tail: tail}, nil
}

// Parse classifies a request path.
//
// The owner is the longest run of non-separator characters after Marker;
// everything after the following "/" is the tail, taken verbatim. Paths
// without Marker, or with an owner but no following separator, are
// KindIndex. Paths with Marker and an empty owner fail with ErrMalformedPath.
func Parse(requestPath string) (Target, error) {
	rest, ok := strings.CutPrefix(requestPath, Marker)
	if !ok {
		return Target{Kind: KindIndex}, nil
	}

	owner, tail, found := strings.Cut(rest, "/")
	if owner == "" {
		return Target{}, fmt.Errorf("%w: %q has an empty owner", ErrMalformedPath, requestPath)
	}
	if !found {
		return Target{Kind: KindIndex}, nil
	}

	return Target{
		Kind:    KindResource,
		Address: Address{Owner: owner, Tail: tail},
	}, nil
}

// Name is the repository index name for the address: owner/tail.
func (a Address) Name() string {
	return a.Owner + "/" + a.Tail
}

// Path renders the address as a request path.
func (a Address) Path() string {
	return Marker + a.Name()
}

func (a Address) String() string {
	return "~" + a.Name()
}
