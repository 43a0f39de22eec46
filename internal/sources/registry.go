package sources

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/config"
)

// Registry holds the enabled sources in config order.
type Registry struct {
	sources []DocumentSource
}

// NewRegistry builds every enabled source. Construction errors for all
// sources are joined so operators see every misconfiguration at once.
// A positive limit makes the notion, gdrive and files sources stop fetching
// after that many documents.
func NewRegistry(ctx context.Context, cfg config.SourcesConfig, limit int, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		r    Registry
		errs []error
	)
	add := func(src DocumentSource, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		r.sources = append(r.sources, src)
	}

	for _, name := range cfg.Enabled() {
		l := logger.With(zap.String("source", name))
		switch name {
		case "notion":
			n, err := NewNotion(cfg.Notion, l)
			if err == nil {
				n.limit = limit
			}
			add(n, err)
		case "gdrive":
			d, err := NewDrive(ctx, cfg.Drive, l)
			if err == nil {
				d.limit = limit
			}
			add(d, err)
		case "discord":
			add(NewDiscord(cfg.Discord, l))
		case "files":
			f, err := NewFiles(cfg.Files, l)
			if err == nil {
				f.limit = limit
			}
			add(f, err)
		case "testdata":
			add(NewTestData(), nil)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &r, nil
}

// NewRegistryOf wraps already built sources.
func NewRegistryOf(sources ...DocumentSource) *Registry {
	return &Registry{sources: sources}
}

// All returns the sources in order.
func (r *Registry) All() []DocumentSource {
	if r == nil {
		return nil
	}
	return r.sources
}

// Select returns the named sources, or all of them when names is empty.
func (r *Registry) Select(names ...string) ([]DocumentSource, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	out := make([]DocumentSource, 0, len(names))
	for _, name := range names {
		src := r.Get(name)
		if src == nil {
			return nil, fmt.Errorf("source %q is not enabled", name)
		}
		out = append(out, src)
	}
	return out, nil
}

// Get returns the named source or nil.
func (r *Registry) Get(name string) DocumentSource {
	for _, s := range r.All() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}
