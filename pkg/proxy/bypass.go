package proxy

import "strings"

// BypassList matches domains that are relayed without interception.
// Entries are exact names or "*.suffix" patterns; a pattern matches
// subdomains of suffix at any depth but not suffix itself.
type BypassList struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewBypassList compiles patterns. Empty entries are ignored.
func NewBypassList(patterns []string) *BypassList {
	b := &BypassList{exact: make(map[string]struct{})}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(p), "."))
		if p == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(p, "*."); ok {
			b.suffixes = append(b.suffixes, "."+rest)
			continue
		}
		b.exact[p] = struct{}{}
	}
	return b
}

// Match reports whether domain should bypass interception.
func (b *BypassList) Match(domain string) bool {
	if b == nil {
		return false
	}
	domain = strings.ToLower(domain)
	if _, ok := b.exact[domain]; ok {
		return true
	}
	for _, s := range b.suffixes {
		if strings.HasSuffix(domain, s) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled entries.
func (b *BypassList) Len() int {
	if b == nil {
		return 0
	}
	return len(b.exact) + len(b.suffixes)
}
