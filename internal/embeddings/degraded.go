package embeddings

import (
	"context"
	"fmt"
)

// Degraded is the provider used when the model could not be loaded.
type Degraded struct {
	model     string
	dimension int
	cause     error
}

// NewDegraded returns a provider whose calls fail with ErrModelUnavailable.
// Dimension still reports the configured size so placeholder vectors and the
// index manifest stay consistent.
func NewDegraded(model string, dimension int, cause error) *Degraded {
	return &Degraded{model: model, dimension: dimension, cause: cause}
}

func (d *Degraded) err() error {
	if d.cause == nil {
		return ErrModelUnavailable
	}
	return fmt.Errorf("%w: %v", ErrModelUnavailable, d.cause)
}

func (d *Degraded) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, d.err()
}

func (d *Degraded) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, d.err()
}

func (d *Degraded) Dimension() int { return d.dimension }
func (d *Degraded) Model() string  { return d.model }
func (d *Degraded) Close() error   { return nil }

// Cause is the load error that put the provider in degraded mode.
func (d *Degraded) Cause() error { return d.cause }

// IsDegraded reports whether p cannot produce embeddings at all.
func IsDegraded(p Provider) bool {
	if p == nil {
		return true
	}
	_, ok := p.(*Degraded)
	return ok
}
