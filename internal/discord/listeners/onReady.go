package listeners

import (
	"fmt"

	"grabbit/internal/app"
	"grabbit/internal/discord/commands"
	"grabbit/internal/discord/response"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

func OnReady(a *app.App, event *events.Ready, registerCommands bool) {
	fmt.Println("Grabbit is now running. Press Ctrl+C to exit.")
	a.Log.Info("Grabbit is now running.")

	if registerCommands {
		globalCommands := make([]discord.ApplicationCommandCreate, 0, len(commands.Registry))
		for _, cmd := range commands.Registry {
			if cmd.IsGlobal {
				globalCommands = append(globalCommands, cmd.Data)
			}
		}
		if _, err := a.Client.Rest.SetGlobalCommands(a.Client.ApplicationID, globalCommands); err != nil {
			a.Log.Errorf("Error registering global commands: %s", err)
		} else {
			a.Log.Infof("Registered %d global commands", len(globalCommands))
		}
	}

	if _, err := response.MessageOperatorChannel(a, discord.NewMessageCreateBuilder().
		SetContent("`bot_started`").
		Build()); err != nil {
		a.Log.Debugf("bot_started not delivered to operator channel: %s", err)
	}
}
