package commands

import (
	"fmt"
	"time"

	"grabbit/internal/app"
	"grabbit/internal/platform/database"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/google/uuid"
)

var Report = register(BotCommand{
	IsGlobal:   true,
	FilterBots: true,
	Data: discord.SlashCommandCreate{
		Name:        "report",
		Description: "Report a link that doesn't work",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "url",
				Description: "the link that failed",
				Required:    true,
			},
			discord.ApplicationCommandOptionString{
				Name:        "details",
				Description: "what happened",
				Required:    true,
			},
		},
	},
	Handler: func(a *app.App, event *events.ApplicationCommandInteractionCreate) error {
		data := event.SlashCommandInteractionData()

		id := uuid.NewString()
		report := database.ErrorReport{
			UserID:    event.User().ID,
			URL:       data.String("url"),
			FreeText:  data.String("details"),
			Status:    "pending",
			CreatedAt: time.Now(),
		}
		if err := database.PutErrorReport(a.DB, id, report); err != nil {
			a.Log.Errorf("Error storing report: %s", err)
			return event.CreateMessage(discord.NewMessageCreateBuilder().
				SetContent("Couldn't save your report, try again later.").
				SetEphemeral(true).
				Build())
		}
		a.Log.Infof("Error report %s filed by %s for %s", id, event.User().Username, report.URL)

		return event.CreateMessage(discord.NewMessageCreateBuilder().
			SetContent(fmt.Sprintf("Thanks, your report is in. Reference: `%s`", id)).
			SetEphemeral(true).
			Build())
	},
})
