package request

import (
	"regexp"
	"strings"
)

// URLFixer rewrites a known-broken request URL before it is parsed. Fixers
// return the input unchanged when they do not apply.
type URLFixer interface {
	Fix(rawURL string) string
}

// URLFixerFunc adapts a function to URLFixer.
type URLFixerFunc func(string) string

func (f URLFixerFunc) Fix(rawURL string) string {
	return f(rawURL)
}

var psnDoubled = regexp.MustCompile(`^http://\S*[.]playstation[.]nethttp://\S*[.]playstation[.]net/\S*`)

// PSNFixer repairs PlayStation Network update requests, which some consoles
// send with the host prefix duplicated:
//
//	http://gs2.ww.prod.dl.playstation.nethttp://gs2.ww.prod.dl.playstation.net/path
//
// Everything before the second "http://" is dropped.
var PSNFixer URLFixer = URLFixerFunc(func(rawURL string) string {
	if !psnDoubled.MatchString(rawURL) {
		return rawURL
	}

	const scheme = "http://"
	i := strings.Index(rawURL[len(scheme):], scheme)
	if i < 0 {
		return rawURL
	}
	return rawURL[len(scheme)+i:]
})
