// Package apperr holds the error kinds shared across the sync and query paths.
// Components wrap one of these sentinels so callers can classify with errors.Is.
package apperr

import "errors"

var (
	// ErrInput marks input rejected synchronously and never retried.
	ErrInput = errors.New("invalid input")

	// ErrProvider marks a failed call to the embedding provider or vector index.
	ErrProvider = errors.New("provider failure")

	// ErrFeed marks a change-feed disconnect or subscription failure.
	ErrFeed = errors.New("change feed failure")
)

// IsInput reports whether err is an input error.
func IsInput(err error) bool {
	return errors.Is(err, ErrInput)
}

// IsProvider reports whether err is a provider error.
func IsProvider(err error) bool {
	return errors.Is(err, ErrProvider)
}

// IsFeed reports whether err is a change-feed error.
func IsFeed(err error) bool {
	return errors.Is(err, ErrFeed)
}
