package tagging

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// MaxTagLen is the exclusive upper bound on a tag's length in runes.
const MaxTagLen = 30

// Normalize returns the canonical form of a tag: NFKC, trimmed, lowercased.
// ok is false for empty tags and tags of MaxTagLen runes or more.
func Normalize(raw string) (tag string, ok bool) {
	s := strings.TrimSpace(norm.NFKC.String(raw))
	if s == "" {
		return "", false
	}
	// Casers keep state and are not shared.
	s = cases.Lower(language.Und).String(s)
	if n := utf8.RuneCountInString(s); n == 0 || n >= MaxTagLen {
		return "", false
	}
	return s, true
}

// Merge concatenates lists, normalizing every tag and keeping the first
// occurrence of each.
func Merge(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, raw := range list {
			tag, ok := Normalize(raw)
			if !ok {
				continue
			}
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}

var bulletRE = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)

// ParseList splits a model reply such as "eyes, anatomy, shading" into tags.
// Newlines and list bullets are tolerated.
func ParseList(reply string) []string {
	fields := strings.FieldsFunc(reply, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = bulletRE.ReplaceAllString(strings.TrimSpace(f), "")
		f = strings.Trim(f, "\"'` .")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
