package normalize

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	AnonymousDonor = "Anonymous"
	linkRedaction  = "[link removed]"
)

var markup = bluemonday.StrictPolicy()

// urlPattern matches anything a reader could follow: scheme or www links,
// bare host names with any alphabetic TLD, and dotted-quad IPv4 addresses,
// each with an optional port and path.
var urlPattern = regexp.MustCompile(`(?i)` +
	`\b(?:https?|ftp)://\S+` +
	`|\bwww\.\S+` +
	`|\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?(?:/\S*)?` +
	`|\b(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}\b(?::\d+)?(?:/\S*)?`)

// SanitizeConfig controls how donor-supplied free text is cleaned.
type SanitizeConfig struct {
	DonorNameMax int
	MessageMax   int
	Denylist     []string
}

// Sanitizer cleans donor names and messages before they are persisted.
type Sanitizer struct {
	nameMax int
	msgMax  int
	deny    *regexp.Regexp
}

// NewSanitizer compiles the denylist into a single word-boundary pattern.
func NewSanitizer(cfg SanitizeConfig) *Sanitizer {
	s := &Sanitizer{nameMax: cfg.DonorNameMax, msgMax: cfg.MessageMax}
	if s.nameMax <= 0 {
		s.nameMax = 80
	}
	if s.msgMax <= 0 {
		s.msgMax = 280
	}
	words := make([]string, 0, len(cfg.Denylist))
	for _, w := range cfg.Denylist {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, regexp.QuoteMeta(w))
		}
	}
	if len(words) > 0 {
		s.deny = regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`)
	}
	return s
}

// DonorName trims and clamps a display name, defaulting to "Anonymous".
func (s *Sanitizer) DonorName(raw string) string {
	name := strings.Join(strings.Fields(stripControl(stripMarkup(raw))), " ")
	name = s.mask(name)
	name = clampRunes(name, s.nameMax)
	if name == "" {
		return AnonymousDonor
	}
	return name
}

// Message strips markup, control characters and links, masks denylisted
// words and clamps to the maximum display length.
func (s *Sanitizer) Message(raw string) string {
	msg := stripControl(stripMarkup(raw))
	msg = urlPattern.ReplaceAllString(msg, linkRedaction)
	msg = s.mask(msg)
	msg = strings.TrimSpace(msg)
	return clampRunes(msg, s.msgMax)
}

func (s *Sanitizer) mask(in string) string {
	if s.deny == nil {
		return in
	}
	return s.deny.ReplaceAllStringFunc(in, func(m string) string {
		return strings.Repeat("*", utf8.RuneCountInString(m))
	})
}

// stripMarkup drops HTML tags and returns plain text.
func stripMarkup(in string) string {
	if !strings.ContainsAny(in, "<&") {
		return in
	}
	return html.UnescapeString(markup.Sanitize(in))
}

// stripControl removes control characters, keeping newlines and tabs as spaces.
func stripControl(in string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return ' '
		case unicode.IsControl(r), r == utf8.RuneError:
			return -1
		case unicode.Is(unicode.Cf, r): // zero-width and bidi overrides
			return -1
		}
		return r
	}, in)
}

func clampRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max]))
}
