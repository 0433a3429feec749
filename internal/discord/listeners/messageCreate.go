package listeners

import (
	"strings"

	"grabbit/internal/app"
	"grabbit/internal/discord/ingress"
	"grabbit/internal/platform/database"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

// OnGuildMessageCreate scans guild messages for URLs. Messages without any
// are ignored silently; chatter isn't for us.
func OnGuildMessageCreate(a *app.App, event *events.GuildMessageCreate) {
	handleMessage(a, event.Message, false)
}

// OnDMMessageCreate scans direct messages. Here a message without a URL gets
// a reply, since the user is definitely talking to us.
func OnDMMessageCreate(a *app.App, event *events.DMMessageCreate) {
	handleMessage(a, event.Message, true)
}

func handleMessage(a *app.App, message discord.Message, direct bool) {
	if message.Author.Bot {
		return
	}

	a.DiscordWG.Add(1) // track for graceful shutdown

	// acquire semaphore
	select {
	case a.DiscordEventLimiter <- struct{}{}:
	default:
		a.DiscordWG.Done()
		a.Log.Warn("Event limiter reached, dropping message create")
		return
	}

	go func() {
		defer a.DiscordWG.Done()
		defer func() { <-a.DiscordEventLimiter }()

		cfg, err := database.ViewConfig(a.DB)
		if err != nil {
			a.Log.Errorf("Error viewing config: %s", err)
			return
		}

		urls := ingress.ExtractURLs(message.Content, cfg.MaxURLsPerMessage)
		if len(urls) == 0 {
			if direct {
				if _, err := a.Client.Rest.CreateMessage(message.ChannelID, discord.NewMessageCreateBuilder().
					SetContent("I couldn't find a link in that. Send me a media URL and I'll grab it.").
					SetMessageReferenceByID(message.ID).
					Build()); err != nil {
					a.Log.Errorf("Error replying to DM: %s", err)
				}
			}
			return
		}

		// The prompt echoes the URLs so the button handlers can re-extract
		// them from the message itself. No pending state on our side.
		if _, err := a.Client.Rest.CreateMessage(message.ChannelID, discord.NewMessageCreateBuilder().
			SetContent(strings.Join(urls, "\n")).
			AddActionRow(
				discord.NewPrimaryButton("Video", "mode.video"),
				discord.NewSecondaryButton("Audio", "mode.audio"),
			).
			SetMessageReferenceByID(message.ID).
			Build()); err != nil {
			a.Log.Errorf("Error sending mode prompt: %s", err)
		}
	}()
}
