package validation

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidUserID is returned for user identifiers outside the accepted charset.
var ErrInvalidUserID = errors.New("invalid user id")

// User IDs: alphanumeric with dot, dash, underscore and at-sign (1-128 chars).
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._@-]{1,128}$`)

// ValidateUserID checks an identity key before it is signed into a token or used
// to build a feed topic.
func ValidateUserID(id string) error {
	if !userIDRegex.MatchString(id) {
		return ErrInvalidUserID
	}
	return nil
}

const maxLogLen = 256

// SanitizeForLog strips control characters and truncates client text before it is logged.
func SanitizeForLog(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
	if len(s) > maxLogLen {
		cut := maxLogLen
		for cut > 0 && !utf8RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
