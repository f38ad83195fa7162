// Package links finds URLs in free-form message text.
package links

import (
	"regexp"
	"strings"
)

var linkPattern = regexp.MustCompile(`(?i)https?://\S+|www\.\S+|[a-z0-9.-]+\.[a-z]{2,}\S*`)

// Extract returns every link found in text, in order of appearance.
func Extract(text string) []string {
	matches := linkPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	out := make([]string, 0, len(matches))
	for _, match := range matches {
		match = strings.TrimRight(match, ".,;:!?)]}>\"'")
		if match == "" {
			continue
		}
		out = append(out, match)
	}

	return out
}

// First returns the first link in text.
func First(text string) (string, bool) {
	found := Extract(text)
	if len(found) == 0 {
		return "", false
	}

	return found[0], true
}

// Normalize adds an https scheme to links that have none, so the provider
// receives an absolute URL.
func Normalize(link string) string {
	lower := strings.ToLower(link)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return link
	}

	return "https://" + link
}
