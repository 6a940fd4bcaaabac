package messenger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// NormalizePhone reduces a phone number to international digits.
//
// Non-digits are dropped. Domestic Russian forms are rewritten to the 7
// country code: an 11-digit number with trunk prefix 8 becomes 7..., and a
// bare 10-digit mobile number starting with 9 gains a leading 7. The result
// must have 10 to 15 digits.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	switch {
	case len(d) == 11 && d[0] == '8':
		d = "7" + d[1:]
	case len(d) == 10 && d[0] == '9':
		d = "7" + d
	}
	if len(d) < 10 || len(d) > 15 || d[0] == '0' {
		return "", fmt.Errorf("%w: phone %q", ErrInvalidRecipient, raw)
	}
	return d, nil
}

var handleRE = regexp.MustCompile(`^[A-Za-z0-9_]{5,32}$`)

// NormalizeHandle strips surrounding space and one leading '@', validates the
// Telegram username alphabet, and lowercases the result. Telegram usernames
// are case-insensitive, so the lowercase form is the correlation key.
func NormalizeHandle(raw string) (string, error) {
	h := strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if !handleRE.MatchString(h) {
		return "", fmt.Errorf("%w: handle %q", ErrInvalidRecipient, raw)
	}
	return strings.ToLower(h), nil
}

// parseChatID reports whether s is a numeric Telegram chat id.
func parseChatID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
