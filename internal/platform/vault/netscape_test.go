package vault

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

var parseNow = time.Unix(1_700_000_000, 0)

const future = 2_000_000_000

func TestParseNetscapeTabSeparated(t *testing.T) {
	blob := "# Netscape HTTP Cookie File\n" +
		"# This is a comment\n" +
		"\n" +
		".youtube.com\tTRUE\t/\tTRUE\t2000000000\tSID\tabc123\n" +
		"#HttpOnly_.youtube.com\tTRUE\t/\tTRUE\t2000000000\tHSID\tdef456\n"

	cookies, err := ParseNetscape(blob, parseNow)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	if cookies[0].Name != "SID" || cookies[0].Value != "abc123" || cookies[0].HTTPOnly {
		t.Errorf("first cookie wrong: %+v", cookies[0])
	}
	if !cookies[1].HTTPOnly || cookies[1].Domain != ".youtube.com" || cookies[1].Name != "HSID" {
		t.Errorf("HttpOnly prefix must be a flag, not a comment: %+v", cookies[1])
	}
}

func TestParseNetscapeSpaceSeparated(t *testing.T) {
	blob := ".tiktok.com TRUE / TRUE 2000000000 sessionid tok123\n"
	cookies, err := ParseNetscape(blob, parseNow)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cookies[0].Name != "sessionid" || cookies[0].Value != "tok123" {
		t.Errorf("unexpected cookie: %+v", cookies[0])
	}
}

func TestParseNetscapeDropsExpired(t *testing.T) {
	blob := ".a.com\tTRUE\t/\tTRUE\t1000\told\tx\n" +
		".a.com\tTRUE\t/\tTRUE\t2000000000\tfresh\ty\n"
	cookies, err := ParseNetscape(blob, parseNow)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(cookies) != 1 || cookies[0].Name != "fresh" {
		t.Errorf("expected only the fresh cookie, got %+v", cookies)
	}
}

func TestParseNetscapeMissingValueTolerated(t *testing.T) {
	blob := ".a.com\tTRUE\t/\tFALSE\t2000000000\tempty\n"
	cookies, err := ParseNetscape(blob, parseNow)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cookies[0].Name != "empty" || cookies[0].Value != "" {
		t.Errorf("unexpected cookie: %+v", cookies[0])
	}
}

func TestParseNetscapeRejectsShortLines(t *testing.T) {
	blob := ".a.com\tTRUE\t/\tFALSE\t2000000000\n"
	if _, err := ParseNetscape(blob, parseNow); err == nil {
		t.Error("expected error for line with fewer than six fields")
	}
}

func TestParseNetscapeAllExpired(t *testing.T) {
	blob := ".a.com\tTRUE\t/\tTRUE\t1000\told\tx\n"
	_, err := ParseNetscape(blob, parseNow)
	if !errors.Is(err, ErrNoCookies) {
		t.Errorf("expected ErrNoCookies, got %v", err)
	}
}

func TestValueWithWhitespacePreservedVerbatim(t *testing.T) {
	blob := ".a.com\tTRUE\t/\tTRUE\t2000000000\tweird\tva lue with  spaces\n"
	cookies, err := ParseNetscape(blob, parseNow)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cookies[0].Value != "va lue with  spaces" {
		t.Errorf("value not preserved verbatim: %q", cookies[0].Value)
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	original := []Cookie{
		{Domain: ".youtube.com", Subdomain: true, Path: "/", Secure: true, Expires: future, Name: "SID", Value: "abc"},
		{Domain: ".youtube.com", HTTPOnly: true, Subdomain: true, Path: "/", Secure: true, Expires: future, Name: "HSID", Value: "d ef"},
		{Domain: "x.com", Path: "/", Expires: future, Name: "ct0", Value: ""},
	}

	out := SerializeNetscape(original)
	parsed, err := ParseNetscape(out, parseNow)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if !reflect.DeepEqual(original, parsed) {
		t.Errorf("round trip mismatch:\noriginal: %+v\nparsed:   %+v", original, parsed)
	}

	// Canonical form is tab-separated.
	for _, line := range strings.Split(strings.TrimSpace(out), "\n")[1:] {
		if strings.Count(line, "\t") != 6 {
			t.Errorf("non-canonical line: %q", line)
		}
	}
}

func TestRegistrableDomains(t *testing.T) {
	cookies := []Cookie{
		{Domain: ".youtube.com"},
		{Domain: "www.youtube.com"},
		{Domain: ".music.youtube.com"},
		{Domain: "x.com"},
	}
	got := RegistrableDomains(cookies)
	want := []string{"youtube.com", "x.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestHasAll(t *testing.T) {
	cookies := []Cookie{{Name: "SID"}, {Name: "HSID"}, {Name: "other"}}
	if !HasAll(cookies, []string{"SID", "HSID"}) {
		t.Error("expected both essential names present")
	}
	if HasAll(cookies, []string{"SID", "missing"}) {
		t.Error("missing name should fail")
	}
	if HasAll(cookies, nil) {
		t.Error("empty essential set should never soft-validate")
	}
}
