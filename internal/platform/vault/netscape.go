package vault

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// ErrNoCookies means a blob parsed cleanly but contained no usable entries.
var ErrNoCookies = errors.New("no valid cookie lines found")

// httpOnlyPrefix marks a cookie as HttpOnly in exported Netscape files. It is
// a flag, not a comment.
const httpOnlyPrefix = "#HttpOnly_"

// Cookie is one Netscape cookie-file entry.
type Cookie struct {
	Domain    string
	HTTPOnly  bool
	Subdomain bool // the "include subdomains" flag column
	Path      string
	Secure    bool
	Expires   int64 // unix seconds
	Name      string
	Value     string
}

// ParseNetscape parses a Netscape HTTP Cookie File blob. Fields may be tab-
// or space-separated; a #HttpOnly_ domain prefix is honored; entries whose
// expiration is at or before now are dropped; lines with fewer than six
// fields fail the whole parse. The value field of tab-separated lines is
// preserved verbatim (it may contain spaces).
func ParseNetscape(blob string, now time.Time) ([]Cookie, error) {
	var cookies []Cookie
	nowUnix := now.Unix()

	for i, rawLine := range strings.Split(blob, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		} else if strings.HasPrefix(line, "#") {
			continue // real comment
		}

		fields, err := splitCookieLine(line)
		if err != nil {
			return nil, fmt.Errorf("cookie line %d: %w", i+1, err)
		}

		expires, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cookie line %d: bad expiration %q", i+1, fields[4])
		}
		if expires <= nowUnix {
			continue // expired
		}

		c := Cookie{
			Domain:    fields[0],
			HTTPOnly:  httpOnly,
			Subdomain: strings.EqualFold(fields[1], "TRUE"),
			Path:      fields[2],
			Secure:    strings.EqualFold(fields[3], "TRUE"),
			Expires:   expires,
			Name:      fields[5],
		}
		if len(fields) > 6 {
			c.Value = fields[6]
		}
		cookies = append(cookies, c)
	}

	if len(cookies) == 0 {
		return nil, ErrNoCookies
	}
	return cookies, nil
}

// splitCookieLine splits one entry into its 6 or 7 fields. Tab-separated
// lines keep the 7th field verbatim; space-separated lines are a tolerance
// mode where the value is everything after the name.
func splitCookieLine(line string) ([]string, error) {
	if strings.Contains(line, "\t") {
		fields := strings.SplitN(line, "\t", 7)
		if len(fields) < 6 {
			return nil, fmt.Errorf("expected at least 6 tab-separated fields, got %d", len(fields))
		}
		return fields, nil
	}

	fields := strings.Fields(line)
	if len(fields) < 6 {
		return nil, fmt.Errorf("expected at least 6 fields, got %d", len(fields))
	}
	if len(fields) > 7 {
		// Space-separated value containing spaces: glue the tail back together.
		fields = append(fields[:6], strings.Join(fields[6:], " "))
	}
	return fields, nil
}

// SerializeNetscape writes cookies as a canonical tab-separated Netscape
// file. ParseNetscape(SerializeNetscape(cs)) is the identity on non-expired
// entries.
func SerializeNetscape(cookies []Cookie) string {
	var b strings.Builder
	b.WriteString("# Netscape HTTP Cookie File\n")
	for _, c := range cookies {
		domain := c.Domain
		if c.HTTPOnly {
			domain = httpOnlyPrefix + domain
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			domain, flag(c.Subdomain), c.Path, flag(c.Secure), c.Expires, c.Name, c.Value)
	}
	return b.String()
}

func flag(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

// RegistrableDomains reduces cookie domains to their unique registrable
// domains (eTLD+1), for resolving which slot a blob belongs to.
func RegistrableDomains(cookies []Cookie) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range cookies {
		d := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
		reg, err := publicsuffix.EffectiveTLDPlusOne(d)
		if err != nil {
			reg = d
		}
		if _, ok := seen[reg]; ok {
			continue
		}
		seen[reg] = struct{}{}
		out = append(out, reg)
	}
	return out
}

// HasAll reports whether every named cookie is present in the set.
func HasAll(cookies []Cookie, names []string) bool {
	if len(names) == 0 {
		return false
	}
	present := make(map[string]struct{}, len(cookies))
	for _, c := range cookies {
		present[c.Name] = struct{}{}
	}
	for _, n := range names {
		if _, ok := present[n]; !ok {
			return false
		}
	}
	return true
}
