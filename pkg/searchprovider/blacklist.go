package searchprovider

import (
	"net/url"
	"strings"
)

// filterBlacklisted removes results whose host matches a blacklisted
// domain (or any subdomain of one) and reports how many were removed.
func filterBlacklisted(items []SearchResultItem, blacklist []string) ([]SearchResultItem, int) {
	kept := make([]SearchResultItem, 0, len(items))
	removed := 0
	for _, item := range items {
		if isBlacklistedHost(item.URL, blacklist) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	return kept, removed
}

// IsBlacklistedHost reports whether rawURL's host matches a blacklisted
// domain or one of its subdomains. Exported so callers outside this
// package (the agent loop's error accounting) can apply the same rule to
// a scrape target without duplicating the host-matching logic.
func IsBlacklistedHost(rawURL string, blacklist []string) bool {
	return isBlacklistedHost(rawURL, blacklist)
}

func isBlacklistedHost(rawURL string, blacklist []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, blocked := range blacklist {
		blocked = strings.ToLower(blocked)
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}
