package users

import (
	"regexp"
	"unicode/utf8"
)

var (
	namePattern  = regexp.MustCompile(`^[\p{L}\p{M}\s'-]+$`)
	phonePattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
)

// MaxNameLength bounds first and last names, in characters.
const MaxNameLength = 100

// ValidName reports whether s is a non-empty person name of letters, marks,
// spaces, apostrophes and hyphens.
func ValidName(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= 1 && n <= MaxNameLength && namePattern.MatchString(s)
}

// ValidPhone reports whether s is an E.164 number.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(s)
}
