package components

import (
	"fmt"

	"grabbit/internal/app"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

// Mode is the first step of the button flow: the prompt message carries the
// URLs in its content, these buttons swap in the second-step row.
var Mode = register(BotComponent{
	ID: "mode",
	Handler: func(a *app.App, event *events.ComponentInteractionCreate, idParts []string) error {
		if len(idParts) != 1 {
			event.CreateMessage(buildMsg("An error occurred."))
			return fmt.Errorf("mode interaction with bad CustomID: %s", event.Data.CustomID())
		}

		switch idParts[0] {
		case "video":
			return event.UpdateMessage(discord.NewMessageUpdateBuilder().
				AddActionRow(
					discord.NewPrimaryButton("360p", "quality.360"),
					discord.NewPrimaryButton("720p", "quality.720"),
					discord.NewPrimaryButton("1080p", "quality.1080"),
				).
				Build())
		case "audio":
			pol, err := a.Policies()
			if err != nil {
				event.CreateMessage(buildMsg("An error occurred."))
				return fmt.Errorf("failed to resolve policies: %w", err)
			}
			if !pol.Audio.Enabled {
				return event.CreateMessage(buildMsg("Audio mode is currently turned off."))
			}
			return event.UpdateMessage(discord.NewMessageUpdateBuilder().
				AddActionRow(
					discord.NewPrimaryButton("mp3", "audio.mp3"),
					discord.NewPrimaryButton("m4a", "audio.m4a"),
				).
				Build())
		default:
			event.CreateMessage(buildMsg("An error occurred."))
			return fmt.Errorf("mode interaction with unknown mode: %s", idParts[0])
		}
	},
})
