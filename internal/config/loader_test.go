package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the working directory at temp dirs so no real
// config or .env file leaks into a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("NOTION_TOKEN", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "ragdocs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, "./chroma_db", cfg.Store.Path)
	assert.Equal(t, "company_docs", cfg.Store.Collection)
	assert.Equal(t, 2000, cfg.Store.ContentCharLimit)
	assert.Equal(t, 16, cfg.Store.BatchSize)
	assert.Equal(t, 50, cfg.Store.MaxResults)
	assert.Equal(t, 60*time.Second, cfg.Store.EmbedTimeout.Duration())
	assert.Equal(t, "fastembed", cfg.Embeddings.Provider)
	assert.True(t, cfg.Secrets.Enabled)
	assert.Empty(t, cfg.Sources.Enabled())
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `
store:
  path: /tmp/ragdocs-test
  batch_size: 20
  embed_timeout: 90s
embeddings:
  provider: tei
  model: intfloat/multilingual-e5-small
  base_url: http://localhost:8080/v1
sources:
  testdata:
    enabled: true
`)

	cfg, err := Load(Options{ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ragdocs-test", cfg.Store.Path)
	assert.Equal(t, 20, cfg.Store.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.Store.EmbedTimeout.Duration())
	// untouched keys keep their defaults
	assert.Equal(t, 50, cfg.Store.MaxResults)
	assert.Equal(t, "tei", cfg.Embeddings.Provider)
	assert.Equal(t, []string{"testdata"}, cfg.Sources.Enabled())
}

func TestLoad_DefaultPathInWorkingDir(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, dir, "store:\n  collection: handbook\n")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "handbook", cfg.Store.Collection)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, "store:\n  batch_size: 20\n")

	t.Setenv("RAGDOCS_STORE_BATCH_SIZE", "10")
	t.Setenv("RAGDOCS_SOURCES_NOTION_ENABLED", "true")
	t.Setenv("RAGDOCS_SOURCES_NOTION_TOKEN", "secret_abc")

	cfg, err := Load(Options{ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Store.BatchSize)
	assert.True(t, cfg.Sources.Notion.Enabled)
	assert.Equal(t, "secret_abc", cfg.Sources.Notion.Token.Value())
}

func TestLoad_DotEnvAndVendorVariables(t *testing.T) {
	dir := isolate(t)
	envFile := filepath.Join(dir, "custom.env")
	require.NoError(t, os.WriteFile(envFile, []byte("NOTION_TOKEN=from-dotenv\n"), 0600))
	// godotenv never overrides a variable that is already present, even empty
	require.NoError(t, os.Unsetenv("NOTION_TOKEN"))
	t.Cleanup(func() { os.Unsetenv("NOTION_TOKEN") })

	t.Setenv("RAGDOCS_SOURCES_NOTION_ENABLED", "true")

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Sources.Notion.Token.Value())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(Options{ConfigPath: "does-not-exist.yaml"})
	require.Error(t, err)
}

func TestLoad_RejectsWorldReadableFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := isolate(t)
	path := writeConfig(t, dir, "store:\n  batch_size: 4\n")
	require.NoError(t, os.Chmod(path, 0644))

	_, err := Load(Options{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_SourceConfigError(t *testing.T) {
	isolate(t)
	t.Setenv("RAGDOCS_SOURCES_DISCORD_ENABLED", "true")

	_, err := Load(Options{})
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "discord", cfgErr.Source)
	assert.Equal(t, "token", cfgErr.Field)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RAGDOCS_STORE_PATH", "store.path"},
		{"RAGDOCS_STORE_CONTENT_CHAR_LIMIT", "store.content_char_limit"},
		{"RAGDOCS_SOURCES_GDRIVE_FOLDER_ID", "sources.gdrive.folder_id"},
		{"RAGDOCS_SOURCES_NOTION_TOKEN", "sources.notion.token"},
		{"RAGDOCS_DEBUG", "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}
