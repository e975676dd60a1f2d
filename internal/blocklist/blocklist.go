// Package blocklist matches destination hosts against a set of blocked
// domains. A blocked domain also blocks every subdomain under it.
package blocklist

import (
	"strings"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
)

// List is an immutable domain block list. The zero value and a nil *List
// block nothing.
type List struct {
	trie     *ahocorasick.Trie
	patterns []string
}

// New builds a List from domains. Entries are lower-cased; leading "*." or "."
// and trailing dots are ignored.
func New(domains []string) *List {
	patterns := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "*")
		d = strings.Trim(d, ".")
		if d == "" {
			continue
		}
		patterns = append(patterns, "."+d)
	}

	l := &List{patterns: patterns}
	if len(patterns) > 0 {
		l.trie = ahocorasick.NewTrieBuilder().AddStrings(patterns).Build()
	}
	return l
}

// Len returns the number of domains in the list.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.patterns)
}

// Blocked reports whether host is a listed domain or a subdomain of one.
func (l *List) Blocked(host string) bool {
	if l == nil || l.trie == nil {
		return false
	}

	text := "." + strings.TrimSuffix(strings.ToLower(host), ".")
	for _, m := range l.trie.MatchString(text) {
		// Only suffixes count: "ample.com" must not block "example.com".
		if int(m.Pos())+len(l.patterns[m.Pattern()]) == len(text) {
			return true
		}
	}
	return false
}
