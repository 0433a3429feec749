// Package ingress scans message content for downloadable URLs.
package ingress

import (
	"strings"

	"grabbit/internal/platform/hosts"
)

// ExtractURLs pulls the URLs out of a message, order preserved. Anything past
// max is discarded; max <= 0 means no cap. Unparseable fields are skipped, so
// a message mixing prose and links works.
func ExtractURLs(content string, max int) []string {
	fields := strings.Fields(content)
	urls := make([]string, 0)
	for _, field := range fields {
		if !hosts.IsSingleValidURL(field) {
			continue
		}
		urls = append(urls, field)
		if max > 0 && len(urls) == max {
			break
		}
	}
	return urls
}
