package docstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const manifestFile = "manifest.yaml"

// manifest records which model produced the vectors of a persistent
// collection. Querying vectors from another model is meaningless, so a
// mismatch forces keyword-only search until the collection is rebuilt.
type manifest struct {
	Collection string    `yaml:"collection"`
	Model      string    `yaml:"model"`
	Dimension  int       `yaml:"dimension"`
	CreatedAt  time.Time `yaml:"created_at"`
}

func (m *manifest) matches(model string, dim int) bool {
	return m.Model == model && m.Dimension == dim
}

// readManifest returns (nil, nil) when the directory has no manifest.
func readManifest(dir string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

func writeManifest(dir string, m *manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	tmp := filepath.Join(dir, manifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return os.Rename(tmp, filepath.Join(dir, manifestFile))
}
