// Package extract pulls outbound links out of free-form metafield text.
package extract

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s"'<>]+`)

const trailingPunctuation = ".,;:!?)"

// URLs returns the distinct http(s) links found in text, in first-seen order.
// Entities are decoded before matching so an encoded &amp; inside a query
// string survives as a literal ampersand.
func URLs(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	decoded := html.UnescapeString(text)

	matches := urlPattern.FindAllString(decoded, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		candidate := strings.TrimRight(m, trailingPunctuation)
		if !hasHost(candidate) {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		out = append(out, candidate)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func hasHost(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Host != ""
}
