package sources

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/config"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
)

// Discord is a placeholder source: its config is validated but no messages
// are fetched yet.
type Discord struct {
	channels []string
	logger   *zap.Logger
}

// NewDiscord validates the discord section.
func NewDiscord(cfg config.DiscordConfig, logger *zap.Logger) (*Discord, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discord{channels: cfg.ChannelIDs, logger: logger}, nil
}

// Name implements DocumentSource.
func (d *Discord) Name() string { return "discord" }

// Origin implements DocumentSource.
func (d *Discord) Origin() string { return docstore.SourceDiscord }

// FetchAll implements DocumentSource and always returns no records.
func (d *Discord) FetchAll(ctx context.Context) ([]docstore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.logger.Info("discord source is not implemented, returning no documents",
		zap.Int("channels", len(d.channels)),
	)
	return nil, nil
}
