package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "RAGDOCS_"
)

// Options controls where Load looks for configuration.
type Options struct {
	// ConfigPath is the YAML file. Empty means DefaultPaths() is searched.
	ConfigPath string

	// EnvFile is a dotenv file loaded into the process environment before
	// env overrides are applied. Missing files are ignored. Empty means ".env".
	EnvFile string
}

// DefaultPaths returns the config files tried when no path is given.
func DefaultPaths() []string {
	paths := []string{"ragdocs.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ragdocs", "config.yaml"))
	}
	return paths
}

// Load builds the configuration.
//
// Precedence (highest to lowest):
//  1. RAGDOCS_* environment variables (RAGDOCS_STORE_PATH -> store.path,
//     RAGDOCS_SOURCES_NOTION_TOKEN -> sources.notion.token)
//  2. well-known vendor variables (NOTION_TOKEN, OPENAI_API_KEY,
//     GOOGLE_APPLICATION_CREDENTIALS) when the matching field is empty
//  3. YAML config file
//  4. Default()
//
// The config file may hold tokens, so it must not be readable by group or
// others and must be smaller than 1MB.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	k := koanf.New(".")

	path, err := resolveConfigPath(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyVendorEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps RAGDOCS_SECTION_FIELD_NAME to section.field_name. The sources
// section nests one level deeper: RAGDOCS_SOURCES_GDRIVE_FOLDER_ID maps to
// sources.gdrive.folder_id.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	if parts[0] == "sources" {
		sub := strings.SplitN(parts[1], "_", 2)
		if len(sub) == 2 {
			return "sources." + sub[0] + "." + sub[1]
		}
	}
	return parts[0] + "." + parts[1]
}

func applyVendorEnv(cfg *Config) {
	if !cfg.Sources.Notion.Token.IsSet() {
		cfg.Sources.Notion.Token = Secret(os.Getenv("NOTION_TOKEN"))
	}
	if !cfg.Assistant.APIKey.IsSet() {
		cfg.Assistant.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}
	if !cfg.Embeddings.APIKey.IsSet() && cfg.Embeddings.Provider == "openai" {
		cfg.Embeddings.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}
	if cfg.Sources.Drive.CredentialsFile == "" && !cfg.Sources.Drive.CredentialsJSON.IsSet() {
		cfg.Sources.Drive.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
}

// resolveConfigPath returns the explicit path (which must exist) or the first
// default path that exists. An empty result means no file is used.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	for _, p := range DefaultPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// readConfigFile opens the file once and validates the open descriptor to
// avoid a stat/open race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
