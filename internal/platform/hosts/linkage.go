package hosts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Slot describes one cookie storage bucket and the hosts it serves. Several
// hosts may share a slot; hosts absent from every slot need no credentials.
type Slot struct {
	Name string `yaml:"name"`
	// Hosts served by this slot's credential.
	Hosts []string `yaml:"hosts"`
	// CookieDomains are registrable domains whose presence in an ingested
	// cookie blob identifies this slot.
	CookieDomains []string `yaml:"cookie_domains"`
	// EssentialCookies are names that must be present for soft validation.
	EssentialCookies []string `yaml:"essential_cookies"`
	// ProbeURL is a stable public URL for full validation. Empty means the
	// slot can only be soft-validated.
	ProbeURL string `yaml:"probe_url"`
}

// Linkage is the host-to-slot mapping. Slot order is the precedence order
// when an ingested blob matches more than one slot.
type Linkage struct {
	Slots []Slot `yaml:"slots"`
}

// DefaultLinkage returns the built-in mapping, used when no linkage file is
// configured. Facebook rides on the Instagram slot (shared Meta session).
func DefaultLinkage() *Linkage {
	return &Linkage{Slots: []Slot{
		{
			Name:             "youtube",
			Hosts:            []string{"youtube"},
			CookieDomains:    []string{"youtube.com", "google.com"},
			EssentialCookies: []string{"SID", "HSID"},
			ProbeURL:         "https://www.youtube.com/watch?v=jNQXAC9IVRw",
		},
		{
			Name:             "instagram",
			Hosts:            []string{"instagram", "facebook"},
			CookieDomains:    []string{"instagram.com", "facebook.com"},
			EssentialCookies: []string{"sessionid", "csrftoken"},
			// No stable probe URL; soft validation only.
		},
		{
			Name:             "twitter",
			Hosts:            []string{"twitter"},
			CookieDomains:    []string{"x.com", "twitter.com"},
			EssentialCookies: []string{"auth_token", "ct0"},
			ProbeURL:         "https://x.com/jack/status/20",
		},
		{
			Name:             "tiktok",
			Hosts:            []string{"tiktok"},
			CookieDomains:    []string{"tiktok.com"},
			EssentialCookies: []string{"sessionid"},
			ProbeURL:         "https://www.tiktok.com/@tiktok/video/6584647400055377158",
		},
	}}
}

// LoadLinkage reads the linkage from path, or returns the built-in defaults
// when path is empty or absent.
func LoadLinkage(path string) (*Linkage, error) {
	if path == "" {
		return DefaultLinkage(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultLinkage(), nil
		}
		return nil, fmt.Errorf("read linkage file: %w", err)
	}
	var l Linkage
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse linkage file: %w", err)
	}
	if len(l.Slots) == 0 {
		return nil, fmt.Errorf("linkage file %s defines no slots", path)
	}
	seen := make(map[string]struct{}, len(l.Slots))
	for _, s := range l.Slots {
		if s.Name == "" {
			return nil, fmt.Errorf("linkage file %s has a slot with no name", path)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("linkage file %s defines slot %q twice", path, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return &l, nil
}

// SlotFor returns the slot serving the given host, or ok=false when the host
// needs no credentials.
func (l *Linkage) SlotFor(h Host) (Slot, bool) {
	name := h.String()
	for _, s := range l.Slots {
		for _, hn := range s.Hosts {
			if hn == name {
				return s, true
			}
		}
	}
	return Slot{}, false
}

// SlotByName looks a slot up by its name.
func (l *Linkage) SlotByName(name string) (Slot, bool) {
	for _, s := range l.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return Slot{}, false
}

// SlotForCookieDomains resolves which slot an ingested cookie blob belongs
// to. domains should be registrable domains. When several slots match, the
// first declared wins.
func (l *Linkage) SlotForCookieDomains(domains []string) (Slot, bool) {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[d] = struct{}{}
	}
	for _, s := range l.Slots {
		for _, cd := range s.CookieDomains {
			if _, ok := set[cd]; ok {
				return s, true
			}
		}
	}
	return Slot{}, false
}
