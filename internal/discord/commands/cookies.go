package commands

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"grabbit/internal/app"
	"grabbit/internal/platform/hosts"
	"grabbit/internal/platform/vault"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

// maxCookieBlobBytes caps attachment downloads; real cookie exports are a few KB.
const maxCookieBlobBytes = 1 << 20

var Cookies = register(BotCommand{
	IsGlobal:        true,
	RequireOperator: true,
	FilterBots:      true,
	Data: discord.SlashCommandCreate{
		Name:        "cookies",
		Description: "Manage the credential vault",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "status",
				Description: "Show every slot's state",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "ingest",
				Description: "Store a Netscape cookie export",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionAttachment{
						Name:        "file",
						Description: "cookies.txt export",
						Required:    true,
					},
					discord.ApplicationCommandOptionString{
						Name:        "host",
						Description: "host hint when domains are ambiguous",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "validate",
				Description: "Probe a slot's credential",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "slot",
						Description: "slot name, e.g. youtube",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "delete",
				Description: "Remove a slot's credential",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "slot",
						Description: "slot name, e.g. youtube",
						Required:    true,
					},
				},
			},
		},
	},
	Handler: func(a *app.App, event *events.ApplicationCommandInteractionCreate) error {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return fmt.Errorf("cookies interaction without subcommand")
		}
		switch *data.SubCommandName {
		case "status":
			return cookiesStatus(a, event)
		case "ingest":
			return cookiesIngest(a, event, data)
		case "validate":
			return cookiesValidate(a, event, data)
		case "delete":
			return cookiesDelete(a, event, data)
		default:
			return fmt.Errorf("unknown cookies subcommand: %s", *data.SubCommandName)
		}
	},
})

func cookiesStatus(a *app.App, event *events.ApplicationCommandInteractionCreate) error {
	if err := event.DeferCreateMessage(true); err != nil {
		return err
	}

	var msg strings.Builder
	msg.WriteString("Vault status:\n")
	for _, st := range a.Vault.Status(true) {
		if !st.Exists {
			fmt.Fprintf(&msg, "`%s`: empty (serves %s)\n", st.Slot, strings.Join(st.LinkedHosts, ", "))
			continue
		}
		last := "never"
		if st.LastValidatedAt != nil {
			last = st.LastValidatedAt.Format(time.DateOnly)
		}
		fmt.Fprintf(&msg, "`%s`: %d cookie(s), %dd old, validation %s (last %s), fp `%s`\n",
			st.Slot, st.CookieCount, st.AgeDays, st.ValidationType, last, st.Fingerprint)
	}
	return createFollowupMessage(a, event.Token(), msg.String(), true)
}

func cookiesIngest(a *app.App, event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) error {
	if err := event.DeferCreateMessage(true); err != nil {
		return err
	}

	att := data.Attachment("file")
	blob, err := fetchAttachment(a, att.URL)
	if err != nil {
		a.Log.Errorf("Error downloading cookie attachment: %s", err)
		return createFollowupMessage(a, event.Token(), "Couldn't download that attachment.", true)
	}

	hint := hosts.HostUnknown
	if name, ok := data.OptString("host"); ok {
		if hint = hostByName(name); hint == hosts.HostUnknown {
			return createFollowupMessage(a, event.Token(), "Unknown host hint: "+name, true)
		}
	}

	slot, count, err := a.Vault.Ingest(a.Context, blob, hint)
	if err != nil {
		switch {
		case errors.Is(err, vault.ErrPlatformUndetermined):
			return createFollowupMessage(a, event.Token(), "Couldn't tell which host these cookies belong to. Pass the host option.", true)
		case errors.Is(err, vault.ErrCookieParse):
			return createFollowupMessage(a, event.Token(), "That doesn't parse as a Netscape cookie file. Any existing credential is untouched.", true)
		default:
			a.Log.Errorf("Error ingesting cookies: %s", err)
			return createFollowupMessage(a, event.Token(), "Ingest failed, see logs.", true)
		}
	}
	return createFollowupMessage(a, event.Token(), fmt.Sprintf("Stored %d cookie(s) in slot `%s`.", count, slot), true)
}

func cookiesValidate(a *app.App, event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) error {
	if err := event.DeferCreateMessage(true); err != nil {
		return err
	}

	slot := data.String("slot")
	// probes go through the politeness queue, same as the cron scan
	result, err := a.Vault.Validate(a.Context, slot, a)
	if err != nil {
		if errors.Is(err, vault.ErrSlotAbsent) {
			return createFollowupMessage(a, event.Token(), "No credential stored for `"+slot+"`.", true)
		}
		a.Log.Errorf("Error validating slot %s: %s", slot, err)
		return createFollowupMessage(a, event.Token(), "Validation failed, see logs.", true)
	}
	return createFollowupMessage(a, event.Token(), fmt.Sprintf("Slot `%s` validation: %s", slot, result), true)
}

func cookiesDelete(a *app.App, event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) error {
	slot := data.String("slot")
	if err := a.Vault.Delete(slot); err != nil {
		if errors.Is(err, vault.ErrSlotAbsent) {
			return event.CreateMessage(discord.NewMessageCreateBuilder().
				SetContent("No credential stored for `" + slot + "`.").
				SetEphemeral(true).
				Build())
		}
		a.Log.Errorf("Error deleting slot %s: %s", slot, err)
		return event.CreateMessage(discord.NewMessageCreateBuilder().
			SetContent("Delete failed, see logs.").
			SetEphemeral(true).
			Build())
	}
	return event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent("Deleted credential for `" + slot + "`.").
		SetEphemeral(true).
		Build())
}

func fetchAttachment(a *app.App, url string) (string, error) {
	req, err := http.NewRequestWithContext(a.Context, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", a.UserAgent)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCookieBlobBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func hostByName(name string) hosts.Host {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, h := range hosts.All {
		if h.String() == name {
			return h
		}
	}
	return hosts.HostUnknown
}
