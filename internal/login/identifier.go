package login

import "strings"

// ClassifyIdentifier normalizes a raw login string and reports whether it
// is a phone number. Phone logins get their country-code prefix folded to
// the bare "7..." form the login form expects; anything else (email,
// username) passes through trimmed.
func ClassifyIdentifier(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)

	stripped := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, trimmed)

	digits := stripped
	hadPlus := strings.HasPrefix(digits, "+")
	if hadPlus {
		digits = digits[1:]
	}
	if digits == "" || !isDigits(digits) {
		return trimmed, false
	}

	switch {
	case hadPlus:
		return digits, true
	case len(digits) == 11 && digits[0] == '8':
		// Domestic trunk prefix; the form wants the country code.
		return "7" + digits[1:], true
	case len(digits) >= 10:
		return digits, true
	default:
		// Short all-digit strings are treated as usernames.
		return trimmed, false
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
