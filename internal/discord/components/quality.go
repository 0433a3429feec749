package components

import (
	"fmt"
	"strconv"

	"grabbit/internal/app"
	"grabbit/internal/pipeline"

	"github.com/disgoorg/disgo/events"
)

var Quality = register(BotComponent{
	ID: "quality",
	Handler: func(a *app.App, event *events.ComponentInteractionCreate, idParts []string) error {
		if len(idParts) != 1 {
			event.CreateMessage(buildMsg("An error occurred."))
			return fmt.Errorf("quality interaction with bad CustomID: %s", event.Data.CustomID())
		}
		height, err := strconv.Atoi(idParts[0])
		if err != nil || (height != 360 && height != 720 && height != 1080) {
			event.CreateMessage(buildMsg("An error occurred."))
			return fmt.Errorf("quality interaction with unknown ceiling: %s", idParts[0])
		}
		return submitJob(a, event, pipeline.Mode{Height: height})
	},
})
