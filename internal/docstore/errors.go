package docstore

import (
	"errors"

	"github.com/fyrsmithlabs/ragdocs/internal/embeddings"
)

var (
	// ErrUninitialized means the store never reached a usable state. It is
	// distinct from an empty result and must be surfaced as "unavailable".
	ErrUninitialized = errors.New("document store uninitialized")

	// ErrModelUnavailable is returned by a degraded embedding provider.
	ErrModelUnavailable = embeddings.ErrModelUnavailable

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrWriteFailed wraps a collection write that failed outright.
	ErrWriteFailed = errors.New("collection write failed")
)
