package database

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Configuration is process-level config, distinct from the operator-mutable
// settings singletons below.
type Configuration struct {
	LogLevel string `json:"logLevel"`
	BotToken string `json:"botToken"`

	OperatorChannelID snowflake.ID `json:"operatorChannelID"` // out-of-band alert channel, 0 = alerts log-only

	MaxURLsPerMessage    int   `json:"maxURLsPerMessage"`    // ingress URL cap, default 6
	DeliveryCeilingBytes int64 `json:"deliveryCeilingBytes"` // upload size ceiling
	TranscodeWorkers     int   `json:"transcodeWorkers"`     // process-wide concurrent transcoder cap
	ProbeTimeoutSec      int   `json:"probeTimeoutSec"`      // metadata probe timeout, default 30
	ReferralCreditBundle int   `json:"referralCreditBundle"` // overlay credits granted per referral, default 10
}

// DayCount is one (day, count) entry of a user's daily usage ledger.
// Day is a calendar date in the service clock, formatted 2006-01-02.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// User is the entitlement document, keyed by discord user id.
type User struct {
	Username string `json:"username"`
	Language string `json:"language"` // enumerated tag, e.g. "en"

	TierUntil time.Time `json:"tierUntil"` // paid iff TierUntil > now

	DailyUsage        []DayCount `json:"dailyUsage"` // entries older than 24h are garbage
	LifetimeDownloads int64      `json:"lifetimeDownloads"`
	SuccessCount      int64      `json:"successCount"`
	FailureCount      int64      `json:"failureCount"`

	ReferralCode   string       `json:"referralCode"`             // unique across users, assigned at first contact
	ReferrerID     snowflake.ID `json:"referrerID"`               // set at most once, never self
	OverlayCredits int          `json:"overlayCredits"`           // non-negative; one consumed per exempted job
	CountedJobs    []string     `json:"countedJobs,omitempty"`    // recent job ids already counted (idempotence under retry)
	IsOperator     bool         `json:"isOperator"`
}

// Paid reports whether the user is on the paid tier right now.
func (u *User) Paid(now time.Time) bool {
	return u.TierUntil.After(now)
}

// TodayCount sums daily usage entries for the given day.
func (u *User) TodayCount(day string) int {
	total := 0
	for _, e := range u.DailyUsage {
		if e.Day == day {
			total += e.Count
		}
	}
	return total
}

// GlobalSettings is the operator-configured global policy singleton.
type GlobalSettings struct {
	PaidTierOffered  bool            `json:"paidTierOffered"`
	PaidPriceCents   int             `json:"paidPriceCents"`
	WelcomeBroadcast string          `json:"welcomeBroadcast"`
	Hosts            map[string]bool `json:"hosts"` // per-host allow toggles; absent host = allowed
}

// HostAllowed reports whether the operator has the host enabled. Hosts not
// present in the map default to allowed.
func (g *GlobalSettings) HostAllowed(host string) bool {
	if g.Hosts == nil {
		return true
	}
	enabled, ok := g.Hosts[host]
	return !ok || enabled
}

// LogoSettings is the operator-configured overlay policy singleton.
type LogoSettings struct {
	Enabled        bool   `json:"enabled"`
	Animation      string `json:"animation"` // static|corner_rotation|bounce|slide|fade|zoom
	Position       string `json:"position"`  // nine anchor tags
	SizePx         int    `json:"sizePx"`
	OpacityPercent int    `json:"opacityPercent"`
	TargetAudience string `json:"targetAudience"` // "free" | "all" | "none"
	AssetPath      string `json:"assetPath"`
}

// Targets reports whether the overlay policy selects a user with the given
// tier. Credit exemption is applied by the pipeline, not here.
func (l *LogoSettings) Targets(paid bool) bool {
	if !l.Enabled {
		return false
	}
	switch l.TargetAudience {
	case "all":
		return true
	case "none":
		return false
	default: // "free"
		return !paid
	}
}

// GeneralLimits is the free-tier ceiling singleton. A ceiling of -1 means
// unbounded.
type GeneralLimits struct {
	FreeDurationCeilingMinutes int `json:"freeDurationCeilingMinutes"`
	FreeDailyCountCeiling      int `json:"freeDailyCountCeiling"`
}

// AudioSettings is the audio-mode policy singleton. DurationCeilingMinutes of
// -1 means unbounded.
type AudioSettings struct {
	Enabled                bool `json:"enabled"`
	DurationCeilingMinutes int  `json:"durationCeilingMinutes"`
}

// DownloadRecord is one per-URL outcome, keyed <job id>:<url index>.
type DownloadRecord struct {
	UserID    snowflake.ID `json:"userID"`
	Platform  string       `json:"platform"`
	Mode      string       `json:"mode"`    // "video" | "audio"
	Quality   string       `json:"quality"` // height for video, codec for audio
	Status    string       `json:"status"`  // completed | failed | cancelled
	URL       string       `json:"url"`
	Size      int64        `json:"size"`
	ErrorKind string       `json:"errorKind,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Day       string       `json:"day"`
}

// ErrorReport is a user-submitted problem report.
type ErrorReport struct {
	UserID     snowflake.ID `json:"userID"`
	URL        string       `json:"url"`
	ErrorKind  string       `json:"errorKind"`
	FreeText   string       `json:"freeText"`
	Status     string       `json:"status"` // pending | resolved
	CreatedAt  time.Time    `json:"createdAt"`
	ResolvedAt *time.Time   `json:"resolvedAt,omitempty"`
}
