package services

import (
	"regexp"
	"strings"
)

var (
	reLetters = regexp.MustCompile(`[A-Za-z]`)
	// Only allow digits, spaces, +, -, (, ), .
	reAllowed = regexp.MustCompile(`^[0-9+\-\s\(\)\.]+$`)
	// E.164: + followed by 8..15 digits (no leading 0 after +)
	reE164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)
)

// NormPhone normalizes phone numbers to +E.164 using countryCode (digits,
// no plus) for national numbers. Returns "" for anything unusable.
// Rules: strip separators; 00.. -> +..; 0.. -> +<cc>..; <cc>.. -> +<cc>..; ensure leading +
func NormPhone(p, countryCode string) string {
	s := strings.TrimSpace(p)

	if s == "" {
		return ""
	}
	if reLetters.MatchString(s) {
		return ""
	}
	if !reAllowed.MatchString(s) {
		return ""
	}

	// strip separators
	repl := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "\n", "", "\r", "")
	s = repl.Replace(s)

	// 00.. -> +..
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	// 0.. (national) -> +<cc>..
	if strings.HasPrefix(s, "0") {
		s = "+" + countryCode + s[1:]
	}
	// ensure leading +
	if !strings.HasPrefix(s, "+") {
		s = "+" + s
	}
	if !reE164.MatchString(s) {
		return ""
	}
	return s
}
