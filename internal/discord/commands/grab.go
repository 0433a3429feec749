package commands

import (
	"errors"
	"fmt"
	"strconv"

	"grabbit/internal/app"
	"grabbit/internal/discord/ingress"
	"grabbit/internal/pipeline"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

var Grab = register(BotCommand{
	IsGlobal:   true,
	FilterBots: true,
	Data: discord.SlashCommandCreate{
		Name:        "grab",
		Description: "Download media from a link",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "url",
				Description: "link to the media",
				Required:    true,
			},
			discord.ApplicationCommandOptionString{
				Name:        "mode",
				Description: "what to deliver (default video)",
				Required:    false,
				Choices: []discord.ApplicationCommandOptionChoiceString{
					{Name: "video", Value: "video"},
					{Name: "audio", Value: "audio"},
				},
			},
			discord.ApplicationCommandOptionString{
				Name:        "quality",
				Description: "360/720/1080 for video, mp3/m4a for audio",
				Required:    false,
				Choices: []discord.ApplicationCommandOptionChoiceString{
					{Name: "360p", Value: "360"},
					{Name: "720p", Value: "720"},
					{Name: "1080p", Value: "1080"},
					{Name: "mp3", Value: "mp3"},
					{Name: "m4a", Value: "m4a"},
				},
			},
		},
	},
	Handler: func(a *app.App, event *events.ApplicationCommandInteractionCreate) error {
		data := event.SlashCommandInteractionData()

		urls := ingress.ExtractURLs(data.String("url"), 1)
		if len(urls) == 0 {
			return event.CreateMessage(discord.NewMessageCreateBuilder().
				SetContent("That doesn't look like a link I can work with.").
				SetEphemeral(true).
				Build())
		}

		mode := parseMode(data)

		if a.Pipeline == nil {
			return event.CreateMessage(discord.NewMessageCreateBuilder().
				SetContent("I'm not fully started yet, try again in a moment.").
				SetEphemeral(true).
				Build())
		}

		job, err := a.Pipeline.Submit(a.Context, event.User().ID, event.Channel().ID(), event.User().Username, urls, mode, "")
		if err != nil {
			if errors.Is(err, pipeline.ErrJobInProgress) {
				return event.CreateMessage(discord.NewMessageCreateBuilder().
					SetContent("I'm already working on that one.").
					SetEphemeral(true).
					Build())
			}
			a.Log.Errorf("Error submitting job: %s", err)
			return event.CreateMessage(discord.NewMessageCreateBuilder().
				SetContent("Something went wrong, try again later.").
				SetEphemeral(true).
				Build())
		}

		return event.CreateMessage(discord.NewMessageCreateBuilder().
			SetContent(fmt.Sprintf("On it! Grabbing %s (%s %s).", urls[0], mode.Label(), mode.Quality())).
			AddActionRow(discord.NewDangerButton("Cancel", "cancel."+job.ID)).
			Build())
	},
})

// parseMode folds the mode and quality options into a delivery mode,
// defaulting to 720p video.
func parseMode(data discord.SlashCommandInteractionData) pipeline.Mode {
	modeStr, _ := data.OptString("mode")
	quality, _ := data.OptString("quality")

	if modeStr == "audio" || quality == "mp3" || quality == "m4a" {
		codec := quality
		if codec != "mp3" && codec != "m4a" {
			codec = "m4a"
		}
		return pipeline.Mode{Audio: true, Codec: codec}
	}

	height := 720
	if h, err := strconv.Atoi(quality); err == nil {
		height = h
	}
	return pipeline.Mode{Height: height}
}
