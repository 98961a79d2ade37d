package index

import "errors"

var (
	// ErrStaleVersion is returned by Publish when the index is not newer
	// than the one already published for its locale.
	ErrStaleVersion = errors.New("index version is not newer than current")

	// ErrDuplicateEntry is returned by FromEntries for repeated food IDs.
	ErrDuplicateEntry = errors.New("duplicate index entry")
)
