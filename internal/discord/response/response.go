package response

import (
	"fmt"

	"grabbit/internal/app"
	"grabbit/internal/platform/database"

	"github.com/disgoorg/disgo/discord"
)

// Ephemeral builds a plain ephemeral message.
func Ephemeral(content string) discord.MessageCreate {
	return discord.NewMessageCreateBuilder().
		SetContent(content).
		SetEphemeral(true).
		Build()
}

// MessageOperatorChannel sends a message to the out-of-band operator channel
// from config. An unset channel (0) is an error; callers fall back to logging.
func MessageOperatorChannel(a *app.App, messageCreate discord.MessageCreate) (*discord.Message, error) {
	cfg, err := database.ViewConfig(a.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to view config: %w", err)
	}
	if cfg.OperatorChannelID == 0 {
		return nil, fmt.Errorf("operator channel ID is not set in config")
	}
	return a.Client.Rest.CreateMessage(cfg.OperatorChannelID, messageCreate)
}
