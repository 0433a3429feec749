package components

import (
	"errors"
	"fmt"

	"grabbit/internal/app"
	"grabbit/internal/pipeline"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

// Cancel requests cooperative cancellation of a running job. Pressing it
// twice, or after the job finished, is harmless.
var Cancel = register(BotComponent{
	ID: "cancel",
	Handler: func(a *app.App, event *events.ComponentInteractionCreate, idParts []string) error {
		if len(idParts) != 1 {
			event.CreateMessage(buildMsg("An error occurred."))
			return fmt.Errorf("cancel interaction without job ID: %s", event.Data.CustomID())
		}
		jobID := idParts[0]

		if err := a.Registry.Cancel(event.User().ID, jobID); err != nil {
			if errors.Is(err, pipeline.ErrJobUnknown) {
				return event.CreateMessage(buildMsg("That job already finished."))
			}
			event.CreateMessage(buildMsg("An error occurred."))
			return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
		}
		a.Log.Infof("Job %s cancelled by %s", jobID, event.User().Username)

		return event.UpdateMessage(discord.NewMessageUpdateBuilder().
			SetContent("Cancelling, anything already delivered stays.").
			ClearComponents().
			Build())
	},
})
