package components

import (
	"errors"
	"fmt"

	"grabbit/internal/app"
	"grabbit/internal/discord/ingress"
	"grabbit/internal/pipeline"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

// submitJob re-extracts the URLs from the prompt message content (the bot
// echoed them there, so no server-side pending state is needed) and starts
// the job.
func submitJob(a *app.App, event *events.ComponentInteractionCreate, mode pipeline.Mode) error {
	if a.Pipeline == nil {
		event.CreateMessage(buildMsg("I'm not fully started yet, try again in a moment."))
		return nil
	}
	pol, err := a.Policies()
	if err != nil {
		event.CreateMessage(buildMsg("An error occurred."))
		return fmt.Errorf("failed to resolve policies: %w", err)
	}

	urls := ingress.ExtractURLs(event.Message.Content, pol.Config.MaxURLsPerMessage)
	if len(urls) == 0 {
		event.CreateMessage(buildMsg("I lost track of the links, please send them again."))
		return fmt.Errorf("submit interaction without urls in prompt message %s", event.Message.ID)
	}

	job, err := a.Pipeline.Submit(a.Context, event.User().ID, event.Message.ChannelID, event.User().Username, urls, mode, "")
	if err != nil {
		if errors.Is(err, pipeline.ErrJobInProgress) {
			event.CreateMessage(buildMsg("I'm already working on that one."))
			return nil
		}
		event.CreateMessage(buildMsg("Something went wrong, try again later."))
		return fmt.Errorf("failed to submit job: %w", err)
	}

	return event.UpdateMessage(discord.NewMessageUpdateBuilder().
		SetContentf("Working on %d link(s), %s %s.", len(urls), mode.Label(), mode.Quality()).
		AddActionRow(discord.NewDangerButton("Cancel", "cancel."+job.ID)).
		Build())
}
