// Package sanitize holds the pure input validators shared by the server and
// the client SDK. The server silently drops anything these reject, so clients
// are expected to run the same checks before sending.
package sanitize

import (
	"regexp"
	"strings"
)

const (
	MaxNameLen = 100
	MaxTextLen = 240
)

// DefaultMode is the mode a freshly started session sits in.
const DefaultMode = "waiting"

// DemoMode additionally fires the one-shot demo-trigger broadcast when set.
const DemoMode = "demo"

var modes = map[string]struct{}{
	"waiting":  {},
	"ambient":  {},
	"color":    {},
	"reaction": {},
	"text":     {},
	"question": {},
	"demo":     {},
}

// Reactions is the closed set of reaction symbols, in display order.
var Reactions = []string{"❤️", "👏", "👀", "🔥", "😂"}

var reactionSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Reactions))
	for _, r := range Reactions {
		m[r] = struct{}{}
	}
	return m
}()

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// strip anything that could be interpreted as markup by a naive renderer
var markupReplacer = strings.NewReplacer(
	"<", "", ">", "", "&", "", "\"", "", "'", "", "`", "",
)

// Name normalizes a display name: Unicode whitespace trimmed, markup
// characters stripped, truncated to MaxNameLen runes. Empty results are
// rejected.
func Name(s string) (string, bool) {
	return cleanText(s, MaxNameLen)
}

// Text normalizes a free-text submission (shout-out or question) the same way
// as Name but with the larger length cap.
func Text(s string) (string, bool) {
	return cleanText(s, MaxTextLen)
}

func cleanText(s string, max int) (string, bool) {
	s = markupReplacer.Replace(strings.TrimSpace(s))
	if runes := []rune(s); len(runes) > max {
		s = strings.TrimSpace(string(runes[:max]))
	}
	if s == "" {
		return "", false
	}
	return s, true
}

// Color accepts only "#" followed by exactly six hex digits and normalizes to
// lowercase. No best-effort parsing: "red" and "#abc" are rejections.
func Color(s string) (string, bool) {
	if !colorRe.MatchString(s) {
		return "", false
	}
	return strings.ToLower(s), true
}

// Mode accepts only members of the fixed mode set.
func Mode(s string) (string, bool) {
	_, ok := modes[s]
	return s, ok
}

// Reaction accepts only members of the fixed reaction symbol set.
func Reaction(s string) (string, bool) {
	_, ok := reactionSet[s]
	return s, ok
}
