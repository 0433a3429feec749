package hosts

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		url  string
		want Host
	}{
		{"https://www.youtube.com/watch?v=abc", HostYouTube},
		{"https://youtu.be/abc", HostYouTube},
		{"https://music.youtube.com/watch?v=abc", HostYouTube},
		{"https://www.instagram.com/reel/xyz/", HostInstagram},
		{"https://vm.tiktok.com/ZMabc/", HostTikTok},
		{"https://x.com/user/status/123", HostTwitter},
		{"https://twitter.com/user/status/123", HostTwitter},
		{"https://fb.watch/abc/", HostFacebook},
		{"https://v.redd.it/abc", HostReddit},
		{"https://vimeo.com/12345", HostVimeo},
		{"https://clips.twitch.tv/Abc", HostTwitch},
		{"https://soundcloud.com/artist/track", HostSoundCloud},
		{"https://example.com/video.mp4", HostUnknown},
		{"not a url", HostUnknown},
	}
	for _, tt := range tests {
		if got := Detect(tt.url); got != tt.want {
			t.Errorf("Detect(%q) = %s, want %s", tt.url, got, tt.want)
		}
	}
}

func TestIsSingleValidURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://youtube.com/watch?v=a", true},
		{"http://example.com/x", true},
		{"https://a.com https://b.com", false},
		{"ftp://example.com", false},
		{"", false},
		{"https://", false},
	}
	for _, tt := range tests {
		if got := IsSingleValidURL(tt.in); got != tt.want {
			t.Errorf("IsSingleValidURL(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDefaultLinkageSharedSlot(t *testing.T) {
	l := DefaultLinkage()

	ig, ok := l.SlotFor(HostInstagram)
	if !ok {
		t.Fatal("instagram should have a slot")
	}
	fb, ok := l.SlotFor(HostFacebook)
	if !ok {
		t.Fatal("facebook should have a slot")
	}
	if ig.Name != fb.Name {
		t.Errorf("instagram and facebook should share a slot: %s vs %s", ig.Name, fb.Name)
	}

	if _, ok := l.SlotFor(HostReddit); ok {
		t.Error("reddit should need no credentials")
	}
}

func TestSlotForCookieDomainsPrecedence(t *testing.T) {
	l := DefaultLinkage()

	// A blob matching two distinct slots resolves to the first declared.
	slot, ok := l.SlotForCookieDomains([]string{"tiktok.com", "youtube.com"})
	if !ok {
		t.Fatal("expected a slot match")
	}
	if slot.Name != "youtube" {
		t.Errorf("expected declaration-order precedence (youtube), got %s", slot.Name)
	}

	if _, ok := l.SlotForCookieDomains([]string{"example.org"}); ok {
		t.Error("unknown domains should not match a slot")
	}
}

func TestLoadLinkageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookie_links.yaml")
	body := `slots:
  - name: youtube
    hosts: [youtube]
    cookie_domains: [youtube.com]
    essential_cookies: [SID]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := LoadLinkage(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(l.Slots) != 1 || l.Slots[0].Name != "youtube" {
		t.Errorf("unexpected linkage: %+v", l)
	}

	// Absent file falls back to defaults.
	l, err = LoadLinkage(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back: %v", err)
	}
	if len(l.Slots) == 0 {
		t.Error("expected default slots")
	}
}

func TestLoadLinkageRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dup.yaml")
	body := `slots:
  - name: a
    hosts: [youtube]
  - name: a
    hosts: [tiktok]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLinkage(path); err == nil {
		t.Error("expected duplicate slot error")
	}
}
