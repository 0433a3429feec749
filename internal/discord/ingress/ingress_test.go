package ingress

import (
	"fmt"
	"strings"
	"testing"
)

func TestExtractURLs(t *testing.T) {
	cases := []struct {
		name    string
		content string
		max     int
		want    []string
	}{
		{
			name:    "single url",
			content: "https://youtube.com/watch?v=abc",
			max:     6,
			want:    []string{"https://youtube.com/watch?v=abc"},
		},
		{
			name:    "prose around urls",
			content: "check this out https://youtube.com/watch?v=abc and also https://tiktok.com/@u/video/1",
			max:     6,
			want:    []string{"https://youtube.com/watch?v=abc", "https://tiktok.com/@u/video/1"},
		},
		{
			name:    "no urls",
			content: "hello there",
			max:     6,
			want:    []string{},
		},
		{
			name:    "bare word with dots is not a url",
			content: "youtube.com something",
			max:     6,
			want:    []string{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractURLs(tc.content, tc.max)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d urls, want %d: %v", len(got), len(tc.want), got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("url %d: got %s, want %s", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestExtractURLsCapPreservesOrder(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, "https://youtube.com/watch?v=%d ", i)
	}
	got := ExtractURLs(sb.String(), 6)
	if len(got) != 6 {
		t.Fatalf("got %d urls, want 6", len(got))
	}
	for i, u := range got {
		want := fmt.Sprintf("https://youtube.com/watch?v=%d", i)
		if u != want {
			t.Errorf("url %d: got %s, want %s", i, u, want)
		}
	}
}

func TestExtractURLsNoCap(t *testing.T) {
	content := strings.Repeat("https://youtube.com/watch?v=x ", 8)
	if got := ExtractURLs(content, 0); len(got) != 8 {
		t.Errorf("max<=0 should not cap, got %d", len(got))
	}
}
