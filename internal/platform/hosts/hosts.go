// Package hosts knows which media hosts the service supports, how to detect
// them from URLs, and which cookie slot (if any) serves each host.
package hosts

import (
	"net/url"
	"strings"
)

// Host identifies a supported media host.
type Host int

const (
	HostUnknown Host = iota
	HostYouTube
	HostInstagram
	HostTikTok
	HostTwitter
	HostFacebook
	HostReddit
	HostVimeo
	HostTwitch
	HostSoundCloud
)

func (h Host) String() string {
	switch h {
	case HostYouTube:
		return "youtube"
	case HostInstagram:
		return "instagram"
	case HostTikTok:
		return "tiktok"
	case HostTwitter:
		return "twitter"
	case HostFacebook:
		return "facebook"
	case HostReddit:
		return "reddit"
	case HostVimeo:
		return "vimeo"
	case HostTwitch:
		return "twitch"
	case HostSoundCloud:
		return "soundcloud"
	default:
		return "unknown"
	}
}

// All lists every supported host.
var All = []Host{
	HostYouTube, HostInstagram, HostTikTok, HostTwitter, HostFacebook,
	HostReddit, HostVimeo, HostTwitch, HostSoundCloud,
}

// Detect determines the host from the given raw URL.
func Detect(rawURL string) Host {
	switch {
	case hasAnyPrefix(rawURL, []string{
		"https://www.youtube.com/",
		"https://youtube.com/",
		"https://m.youtube.com/",
		"https://music.youtube.com/",
		"https://youtu.be/"}):
		return HostYouTube
	case hasAnyPrefix(rawURL, []string{
		"https://www.instagram.com/",
		"https://m.instagram.com/",
		"https://instagram.com/",
		"https://www.instagr.am/",
		"https://instagr.am/"}):
		return HostInstagram
	case hasAnyPrefix(rawURL, []string{
		"https://www.tiktok.com/",
		"https://tiktok.com/",
		"https://m.tiktok.com/",
		"https://vm.tiktok.com/",
		"https://vt.tiktok.com/"}):
		return HostTikTok
	case hasAnyPrefix(rawURL, []string{
		"https://x.com/",
		"https://www.x.com/",
		"https://mobile.x.com/",
		"https://twitter.com/",
		"https://www.twitter.com/",
		"https://mobile.twitter.com/",
		"https://t.co/"}):
		return HostTwitter
	case hasAnyPrefix(rawURL, []string{
		"https://www.facebook.com/",
		"https://facebook.com/",
		"https://m.facebook.com/",
		"https://fb.watch/"}):
		return HostFacebook
	case hasAnyPrefix(rawURL, []string{
		"https://www.reddit.com/",
		"https://reddit.com/",
		"https://v.redd.it/",
		"https://old.reddit.com/",
		"https://new.reddit.com/"}):
		return HostReddit
	case hasAnyPrefix(rawURL, []string{
		"https://vimeo.com/",
		"https://www.vimeo.com/",
		"https://player.vimeo.com/"}):
		return HostVimeo
	case hasAnyPrefix(rawURL, []string{
		"https://www.twitch.tv/",
		"https://twitch.tv/",
		"https://m.twitch.tv/",
		"https://clips.twitch.tv/"}):
		return HostTwitch
	case hasAnyPrefix(rawURL, []string{
		"https://soundcloud.com/",
		"https://www.soundcloud.com/",
		"https://m.soundcloud.com/",
		"https://on.soundcloud.com/"}):
		return HostSoundCloud
	default:
		return HostUnknown
	}
}

// IsSingleValidURL checks if the given string contains a single valid URL.
func IsSingleValidURL(s string) bool {
	// fast path
	if !(strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")) {
		return false
	}
	// fuzzy check
	count := strings.Count(s, "http://") + strings.Count(s, "https://")
	if count != 1 || strings.ContainsAny(s, " \t\n") {
		return false
	}
	// parse URL
	u, err := url.ParseRequestURI(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
