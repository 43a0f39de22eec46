//go:build !cgo

package embeddings

import "errors"

// ErrFastEmbedNotAvailable is the load error of fastembed in binaries built
// without cgo. The provider falls back to degraded mode.
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (built without cgo, use the tei, openai or ollama provider)")

func newFastEmbedBackend(ProviderConfig) (backend, int, error) {
	return nil, 0, ErrFastEmbedNotAvailable
}
