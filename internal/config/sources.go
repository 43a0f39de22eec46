package config

import (
	"errors"
	"fmt"
	"os"
)

// ConfigError reports a source configuration that is missing a required
// field or carries an unusable value.
type ConfigError struct {
	Source string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sources.%s.%s: %s", e.Source, e.Field, e.Reason)
}

// Unwrap lets callers match ConfigError with errors.Is(err, ErrInvalidConfig).
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// SourcesConfig holds one typed section per document source.
type SourcesConfig struct {
	Notion   NotionConfig   `koanf:"notion"`
	Drive    DriveConfig    `koanf:"gdrive"`
	Discord  DiscordConfig  `koanf:"discord"`
	Files    FilesConfig    `koanf:"files"`
	TestData TestDataConfig `koanf:"testdata"`
}

// NotionConfig configures the Notion integration.
type NotionConfig struct {
	Enabled           bool    `koanf:"enabled"`
	Token             Secret  `koanf:"token"`
	PageSize          int     `koanf:"page_size"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// DriveConfig configures the Google Drive integration. Exactly one of
// CredentialsFile or CredentialsJSON must hold a service account key.
type DriveConfig struct {
	Enabled           bool    `koanf:"enabled"`
	CredentialsFile   string  `koanf:"credentials_file"`
	CredentialsJSON   Secret  `koanf:"credentials_json"`
	FolderID          string  `koanf:"folder_id"`
	MaxFileSize       int64   `koanf:"max_file_size"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	// OCR reads text out of image files; needs a cgo build with Tesseract.
	OCR          bool     `koanf:"ocr"`
	OCRLanguages []string `koanf:"ocr_languages"`
}

// DiscordConfig configures the Discord integration.
type DiscordConfig struct {
	Enabled    bool     `koanf:"enabled"`
	Token      Secret   `koanf:"token"`
	ChannelIDs []string `koanf:"channel_ids"`
}

// FilesConfig configures the local directory source.
type FilesConfig struct {
	Enabled    bool     `koanf:"enabled"`
	Dir        string   `koanf:"dir"`
	Watch      bool     `koanf:"watch"`
	Extensions []string `koanf:"extensions"`
}

// TestDataConfig enables the built-in sample corpus.
type TestDataConfig struct {
	Enabled bool `koanf:"enabled"`
}

// requiredField names a field and reports whether it is set.
type requiredField struct {
	name string
	set  bool
}

func checkRequired(source string, fields []requiredField) error {
	for _, f := range fields {
		if !f.set {
			return &ConfigError{Source: source, Field: f.name, Reason: "is required"}
		}
	}
	return nil
}

// Validate checks the notion section.
func (c NotionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := checkRequired("notion", []requiredField{
		{name: "token", set: c.Token.IsSet()},
	}); err != nil {
		return err
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return &ConfigError{Source: "notion", Field: "page_size", Reason: "must be between 1 and 100"}
	}
	return nil
}

// Validate checks the gdrive section.
func (c DriveConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CredentialsFile == "" && !c.CredentialsJSON.IsSet() {
		return &ConfigError{Source: "gdrive", Field: "credentials_file", Reason: "is required (or credentials_json)"}
	}
	if c.CredentialsFile != "" && c.CredentialsJSON.IsSet() {
		return &ConfigError{Source: "gdrive", Field: "credentials_json", Reason: "cannot be combined with credentials_file"}
	}
	if c.CredentialsFile != "" {
		if _, err := os.Stat(c.CredentialsFile); err != nil {
			return &ConfigError{Source: "gdrive", Field: "credentials_file", Reason: err.Error()}
		}
	}
	if c.MaxFileSize <= 0 {
		return &ConfigError{Source: "gdrive", Field: "max_file_size", Reason: "must be positive"}
	}
	return nil
}

// Validate checks the discord section.
func (c DiscordConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return checkRequired("discord", []requiredField{
		{name: "token", set: c.Token.IsSet()},
		{name: "channel_ids", set: len(c.ChannelIDs) > 0},
	})
}

// Validate checks the files section.
func (c FilesConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := checkRequired("files", []requiredField{
		{name: "dir", set: c.Dir != ""},
		{name: "extensions", set: len(c.Extensions) > 0},
	}); err != nil {
		return err
	}
	info, err := os.Stat(c.Dir)
	if err != nil {
		return &ConfigError{Source: "files", Field: "dir", Reason: err.Error()}
	}
	if !info.IsDir() {
		return &ConfigError{Source: "files", Field: "dir", Reason: "is not a directory"}
	}
	return nil
}

// Validate checks every enabled source and joins the failures.
func (c SourcesConfig) Validate() error {
	return errors.Join(
		c.Notion.Validate(),
		c.Drive.Validate(),
		c.Discord.Validate(),
		c.Files.Validate(),
	)
}

// Enabled lists the names of enabled sources in a stable order.
func (c SourcesConfig) Enabled() []string {
	var names []string
	if c.Notion.Enabled {
		names = append(names, "notion")
	}
	if c.Drive.Enabled {
		names = append(names, "gdrive")
	}
	if c.Discord.Enabled {
		names = append(names, "discord")
	}
	if c.Files.Enabled {
		names = append(names, "files")
	}
	if c.TestData.Enabled {
		names = append(names, "testdata")
	}
	return names
}
