package commands

import (
	"context"
	"fmt"

	"grabbit/internal/app"
	"grabbit/internal/platform/database"

	"github.com/Data-Corruption/stdx/xterm/prompt"
	"github.com/disgoorg/snowflake/v2"
	"github.com/urfave/cli/v3"
)

var Setup = register(func(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "first-run setup: bot token and bootstrap operator",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Println("Enter your bot token:")
			token, err := prompt.String("")
			if err != nil || token == "" {
				return fmt.Errorf("failed to read bot token: %w", err)
			}

			fmt.Println("\nNow your discord user ID (enable dev mode in discord and right click your name):")
			idStr, err := prompt.String("")
			if err != nil || idStr == "" {
				return fmt.Errorf("failed to read operator ID: %w", err)
			}
			userID, err := snowflake.Parse(idStr)
			if err != nil {
				return fmt.Errorf("failed to parse operator ID as snowflake: %w", err)
			}

			if err := database.UpdateConfig(a.DB, func(cfg *database.Configuration) error {
				cfg.BotToken = token
				return nil
			}); err != nil {
				return fmt.Errorf("failed to store bot token: %w", err)
			}

			if _, err := database.UpsertUser(a.DB, userID, func(user *database.User) error {
				user.IsOperator = true
				return nil
			}); err != nil {
				return fmt.Errorf("failed to set user %d as operator: %w", userID, err)
			}

			fmt.Println("\nAll set. Start the bot with: grabbit service run --rc")
			return nil
		},
	}
})
