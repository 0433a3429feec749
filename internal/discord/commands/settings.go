package commands

import (
	"fmt"
	"strings"
	"time"

	"grabbit/internal/app"
	"grabbit/internal/platform/database"
	"grabbit/internal/platform/hosts"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

var Settings = register(BotCommand{
	IsGlobal:        true,
	RequireOperator: true,
	FilterBots:      true,
	Data: discord.SlashCommandCreate{
		Name:        "settings",
		Description: "View or change service policy",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "view",
				Description: "Show the current policy snapshot",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "host",
				Description: "Enable or disable a media host",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "host",
						Description: "host name, e.g. youtube",
						Required:    true,
					},
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "whether downloads from this host are allowed",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "limits",
				Description: "Adjust free-tier ceilings (-1 = unbounded)",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "daily",
						Description: "free daily download count ceiling",
						Required:    false,
					},
					discord.ApplicationCommandOptionInt{
						Name:        "minutes",
						Description: "free duration ceiling in minutes",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "audio",
				Description: "Adjust the audio-mode policy",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "whether audio mode is offered",
						Required:    false,
					},
					discord.ApplicationCommandOptionInt{
						Name:        "minutes",
						Description: "audio duration ceiling in minutes (-1 = unbounded)",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "logo",
				Description: "Adjust the overlay policy",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "whether the overlay is applied",
						Required:    false,
					},
					discord.ApplicationCommandOptionString{
						Name:        "audience",
						Description: "who gets the overlay",
						Required:    false,
						Choices: []discord.ApplicationCommandOptionChoiceString{
							{Name: "free", Value: "free"},
							{Name: "all", Value: "all"},
							{Name: "none", Value: "none"},
						},
					},
					discord.ApplicationCommandOptionString{
						Name:        "asset",
						Description: "path to the overlay image on the host",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "grant",
				Description: "Grant a user paid-tier days",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionUser{
						Name:        "user",
						Description: "who to grant",
						Required:    true,
					},
					discord.ApplicationCommandOptionInt{
						Name:        "days",
						Description: "days of paid tier from now",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "resolve",
				Description: "Mark an error report resolved",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "id",
						Description: "report reference",
						Required:    true,
					},
				},
			},
		},
	},
	Handler: func(a *app.App, event *events.ApplicationCommandInteractionCreate) error {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return fmt.Errorf("settings interaction without subcommand")
		}

		var msg string
		var err error
		switch *data.SubCommandName {
		case "view":
			msg, err = settingsView(a)
		case "host":
			msg, err = settingsHost(a, data)
		case "limits":
			msg, err = settingsLimits(a, data)
		case "audio":
			msg, err = settingsAudio(a, data)
		case "logo":
			msg, err = settingsLogo(a, data)
		case "grant":
			msg, err = settingsGrant(a, data)
		case "resolve":
			msg, err = settingsResolve(a, data)
		default:
			return fmt.Errorf("unknown settings subcommand: %s", *data.SubCommandName)
		}
		if err != nil {
			a.Log.Errorf("Error handling settings %s: %s", *data.SubCommandName, err)
			msg = "Something went wrong, see logs."
		}

		// policy writes take effect on the next admission, not mid-job
		if *data.SubCommandName != "view" {
			a.InvalidatePolicies()
		}

		return event.CreateMessage(discord.NewMessageCreateBuilder().
			SetContent(msg).
			SetEphemeral(true).
			Build())
	},
})

func settingsView(a *app.App) (string, error) {
	pol, err := a.Policies()
	if err != nil {
		return "", err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "Limits: daily %d, duration %d min\n",
		pol.Limits.FreeDailyCountCeiling, pol.Limits.FreeDurationCeilingMinutes)
	fmt.Fprintf(&msg, "Audio: enabled %t, duration %d min\n",
		pol.Audio.Enabled, pol.Audio.DurationCeilingMinutes)
	fmt.Fprintf(&msg, "Logo: enabled %t, audience %s, asset %q\n",
		pol.Logo.Enabled, pol.Logo.TargetAudience, pol.Logo.AssetPath)
	disabled := make([]string, 0)
	for _, h := range hosts.All {
		if !pol.Global.HostAllowed(h.String()) {
			disabled = append(disabled, h.String())
		}
	}
	if len(disabled) > 0 {
		fmt.Fprintf(&msg, "Disabled hosts: %s\n", strings.Join(disabled, ", "))
	} else {
		msg.WriteString("Disabled hosts: none\n")
	}
	fmt.Fprintf(&msg, "Delivery ceiling: %d bytes, max urls per message: %d",
		pol.Config.DeliveryCeilingBytes, pol.Config.MaxURLsPerMessage)
	return msg.String(), nil
}

func settingsHost(a *app.App, data discord.SlashCommandInteractionData) (string, error) {
	name := strings.ToLower(data.String("host"))
	enabled := data.Bool("enabled")
	if hostByName(name) == hosts.HostUnknown {
		return "Unknown host: " + name, nil
	}
	if err := database.UpdateGlobalSettings(a.DB, func(g *database.GlobalSettings) error {
		if g.Hosts == nil {
			g.Hosts = make(map[string]bool)
		}
		g.Hosts[name] = enabled
		return nil
	}); err != nil {
		return "", err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return fmt.Sprintf("Host `%s` is now %s.", name, state), nil
}

func settingsLimits(a *app.App, data discord.SlashCommandInteractionData) (string, error) {
	if err := database.UpdateGeneralLimits(a.DB, func(l *database.GeneralLimits) error {
		if daily, ok := data.OptInt("daily"); ok {
			l.FreeDailyCountCeiling = daily
		}
		if minutes, ok := data.OptInt("minutes"); ok {
			l.FreeDurationCeilingMinutes = minutes
		}
		return nil
	}); err != nil {
		return "", err
	}
	limits, err := database.ViewGeneralLimits(a.DB)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Free-tier limits: daily %d, duration %d min.",
		limits.FreeDailyCountCeiling, limits.FreeDurationCeilingMinutes), nil
}

func settingsAudio(a *app.App, data discord.SlashCommandInteractionData) (string, error) {
	if err := database.UpdateAudioSettings(a.DB, func(s *database.AudioSettings) error {
		if enabled, ok := data.OptBool("enabled"); ok {
			s.Enabled = enabled
		}
		if minutes, ok := data.OptInt("minutes"); ok {
			s.DurationCeilingMinutes = minutes
		}
		return nil
	}); err != nil {
		return "", err
	}
	audio, err := database.ViewAudioSettings(a.DB)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Audio mode: enabled %t, duration %d min.",
		audio.Enabled, audio.DurationCeilingMinutes), nil
}

func settingsLogo(a *app.App, data discord.SlashCommandInteractionData) (string, error) {
	if err := database.UpdateLogoSettings(a.DB, func(l *database.LogoSettings) error {
		if enabled, ok := data.OptBool("enabled"); ok {
			l.Enabled = enabled
		}
		if audience, ok := data.OptString("audience"); ok {
			l.TargetAudience = audience
		}
		if asset, ok := data.OptString("asset"); ok {
			l.AssetPath = asset
		}
		return nil
	}); err != nil {
		return "", err
	}
	logo, err := database.ViewLogoSettings(a.DB)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Logo: enabled %t, audience %s, asset %q.",
		logo.Enabled, logo.TargetAudience, logo.AssetPath), nil
}

func settingsGrant(a *app.App, data discord.SlashCommandInteractionData) (string, error) {
	userID := data.Snowflake("user")
	days := data.Int("days")
	until := time.Now().AddDate(0, 0, days)
	if _, err := database.UpsertUser(a.DB, userID, func(u *database.User) error {
		u.TierUntil = until
		return nil
	}); err != nil {
		return "", err
	}
	return fmt.Sprintf("User %d is on the paid tier until %s.", userID, until.Format(time.DateOnly)), nil
}

func settingsResolve(a *app.App, data discord.SlashCommandInteractionData) (string, error) {
	id := data.String("id")
	if err := database.ResolveErrorReport(a.DB, id, time.Now()); err != nil {
		return "", err
	}
	return fmt.Sprintf("Report `%s` resolved.", id), nil
}
