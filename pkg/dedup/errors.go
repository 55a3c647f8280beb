package dedup

import "errors"

var (
	// ErrNotFound indicates the location holds no repository: it does not
	// exist or carries no repository marker.
	ErrNotFound = errors.New("dedup: repository not found")

	// ErrCorrupt indicates a repository marker is present but the repository
	// structure or stored data is invalid.
	ErrCorrupt = errors.New("dedup: repository corrupt")

	// ErrPermissionDenied indicates the repository could not be read.
	ErrPermissionDenied = errors.New("dedup: permission denied")

	// ErrInUse indicates another process holds the repository index lock.
	ErrInUse = errors.New("dedup: repository in use")

	// ErrAlreadyExists indicates init targeted a location that is not empty.
	ErrAlreadyExists = errors.New("dedup: location already exists")

	// ErrUnwritable indicates the repository structures could not be created.
	ErrUnwritable = errors.New("dedup: location not writable")

	// ErrUnsupportedSettings indicates a settings selection this engine cannot honour.
	ErrUnsupportedSettings = errors.New("dedup: unsupported settings")

	// ErrBadPassword indicates the password does not unlock an encrypted repository.
	ErrBadPassword = errors.New("dedup: bad password")

	// ErrPasswordRequired indicates no password function was supplied.
	ErrPasswordRequired = errors.New("dedup: password function is required")

	// ErrBlobNotFound indicates no blob is stored under the given digest.
	ErrBlobNotFound = errors.New("dedup: blob not found")

	// ErrNameNotFound indicates no digest is bound to the given name.
	ErrNameNotFound = errors.New("dedup: name not found")

	// ErrInvalidDigest indicates a digest that does not match the repository hashing.
	ErrInvalidDigest = errors.New("dedup: invalid digest")

	// ErrInvalidName indicates an empty name.
	ErrInvalidName = errors.New("dedup: invalid name")

	// ErrClosed indicates use of a repository after Close.
	ErrClosed = errors.New("dedup: repository closed")
)
