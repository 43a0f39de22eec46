//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// fastembedModels maps model names to fastembed constants. Both the Hugging
// Face name and the fastembed "fast-" alias are accepted.
var fastembedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	"fast-bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"fast-bge-small-en":                      fastembed.BGESmallEN,
	"fast-bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"fast-bge-base-en":                       fastembed.BGEBaseEN,
	"fast-bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"fast-all-MiniLM-L6-v2":                  fastembed.AllMiniLML6V2,
}

// fastEmbedBackend runs a local ONNX model. The ONNX runtime shared library
// is located through ONNX_PATH.
type fastEmbedBackend struct {
	mu    sync.RWMutex
	model *fastembed.FlagEmbedding
}

func newFastEmbedBackend(cfg ProviderConfig) (backend, int, error) {
	model, ok := fastembedModels[cfg.Model]
	if !ok {
		return nil, 0, fmt.Errorf("%w: unsupported fastembed model %q", ErrInvalidConfig, cfg.Model)
	}

	cacheDir, err := expandHome(cfg.CacheDir)
	if err != nil {
		return nil, 0, err
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, 0, fmt.Errorf("creating model cache %s: %w", cacheDir, err)
	}

	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}
	showProgress := false

	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("initializing fastembed: %w", err)
	}

	return &fastEmbedBackend{model: flag}, knownDimensions[cfg.Model], nil
}

// embed uses the passage prefix recommended for BGE document embeddings.
func (f *fastEmbedBackend) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	vecs, err := f.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vecs, nil
}

func (f *fastEmbedBackend) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	vec, err := f.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

func (f *fastEmbedBackend) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == nil {
		return nil
	}
	err := f.model.Destroy()
	f.model = nil
	return err
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}
