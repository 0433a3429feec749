package commands

import (
	"fmt"
	"strings"

	"grabbit/internal/app"
	"grabbit/internal/platform/database"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
)

var Start = register(BotCommand{
	IsGlobal:   true,
	FilterBots: true,
	Data: discord.SlashCommandCreate{
		Name:        "start",
		Description: "Say hello and get your referral code",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "code",
				Description: "a friend's referral code (REF_...)",
				Required:    false,
			},
		},
	},
	Handler: func(a *app.App, event *events.ApplicationCommandInteractionCreate) error {
		data := event.SlashCommandInteractionData()
		userID := event.User().ID

		// first contact assigns the referral code, later calls keep it
		var myCode string
		if _, err := database.UpsertUser(a.DB, userID, func(u *database.User) error {
			u.Username = event.User().Username
			if u.ReferralCode == "" {
				u.ReferralCode = newReferralCode()
			}
			myCode = u.ReferralCode
			return nil
		}); err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}

		var referralNote string
		if code, ok := data.OptString("code"); ok && code != "" {
			referralNote = applyReferral(a, userID, code)
		}

		global, err := database.ViewGlobalSettings(a.DB)
		if err != nil {
			return fmt.Errorf("failed to view global settings: %w", err)
		}

		var msg strings.Builder
		if global.WelcomeBroadcast != "" {
			msg.WriteString(global.WelcomeBroadcast + "\n\n")
		}
		msg.WriteString("Send me a link (or up to a few at once) and I'll fetch the media for you.\n")
		fmt.Fprintf(&msg, "Your referral code: `REF_%s`", myCode)
		if referralNote != "" {
			msg.WriteString("\n" + referralNote)
		}

		return event.CreateMessage(discord.NewMessageCreateBuilder().
			SetContent(msg.String()).
			SetEphemeral(true).
			Build())
	},
})

// applyReferral links the caller to the code's owner and grants the owner a
// credit bundle. Set at most once, never to yourself. Returns a user-facing
// note; problems with the code never fail the whole command.
func applyReferral(a *app.App, userID snowflake.ID, rawCode string) string {
	code := strings.TrimPrefix(rawCode, "REF_")
	ownerID, found, err := database.FindUserByReferralCode(a.DB, code)
	if err != nil {
		a.Log.Errorf("Error looking up referral code: %s", err)
		return "Something went wrong with that referral code."
	}
	if !found {
		return "That referral code doesn't exist."
	}
	if ownerID == userID {
		return "You can't refer yourself."
	}

	linked := false
	if _, err := database.UpsertUser(a.DB, userID, func(u *database.User) error {
		if u.ReferrerID == 0 {
			u.ReferrerID = ownerID
			linked = true
		}
		return nil
	}); err != nil {
		a.Log.Errorf("Error setting referrer: %s", err)
		return "Something went wrong with that referral code."
	}
	if !linked {
		return "You've already used a referral code."
	}

	cfg, err := database.ViewConfig(a.DB)
	if err != nil {
		a.Log.Errorf("Error viewing config for referral bundle: %s", err)
		return "Referral recorded."
	}
	if _, err := database.UpsertUser(a.DB, ownerID, func(u *database.User) error {
		u.OverlayCredits += cfg.ReferralCreditBundle
		return nil
	}); err != nil {
		a.Log.Errorf("Error granting referral credits to %d: %s", ownerID, err)
	} else {
		a.Log.Infof("Referral: %d referred by %d, granted %d credits", userID, ownerID, cfg.ReferralCreditBundle)
	}
	return "Referral recorded, your friend got a little thank-you."
}

func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
}
