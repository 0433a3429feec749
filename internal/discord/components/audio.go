package components

import (
	"fmt"

	"grabbit/internal/app"
	"grabbit/internal/pipeline"

	"github.com/disgoorg/disgo/events"
)

var Audio = register(BotComponent{
	ID: "audio",
	Handler: func(a *app.App, event *events.ComponentInteractionCreate, idParts []string) error {
		if len(idParts) != 1 || (idParts[0] != "mp3" && idParts[0] != "m4a") {
			event.CreateMessage(buildMsg("An error occurred."))
			return fmt.Errorf("audio interaction with bad CustomID: %s", event.Data.CustomID())
		}
		return submitJob(a, event, pipeline.Mode{Audio: true, Codec: idParts[0]})
	},
})
