package state

import "errors"

var (
	// ErrStaleSnapshot is returned when reverting to a snapshot that an earlier revert already discarded.
	ErrStaleSnapshot = errors.New("stale snapshot handle")
	// ErrInvalidSnapshot is returned for handles that were never issued by this overlay.
	ErrInvalidSnapshot = errors.New("invalid snapshot handle")
	// ErrRemoteFetch wraps any failure of the remote state source.
	ErrRemoteFetch = errors.New("remote state fetch failed")
)
