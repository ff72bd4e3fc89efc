// Package content cleans the few server-originated strings the relay builds
// itself. Client envelopes are forwarded untouched and never pass through here.
package content

import (
	"net/url"
	"regexp"
	"strings"

	"vaani/internal/models"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
)

const maxUserIDLength = 128

var (
	plainPolicy = bluemonday.StrictPolicy()
	richPolicy  = bluemonday.UGCPolicy()
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)
)

// Sanitize strips every tag from input.
func Sanitize(input string) string {
	return strings.TrimSpace(plainPolicy.Sanitize(input))
}

// SanitizeProfile prepares a profile for broadcast to every client.
// Names lose all markup, bios keep basic formatting, and avatars must be http(s) URLs.
func SanitizeProfile(p models.Profile) models.Profile {
	p.Name = Sanitize(p.Name)
	p.Bio = strings.TrimSpace(richPolicy.Sanitize(p.Bio))
	if !isWebURL(p.Avatar) {
		p.Avatar = ""
	}
	return p
}

func isWebURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// ValidateUserID accepts ObjectID hex strings, UUIDs and similar opaque ids.
func ValidateUserID(userID string) error {
	if userID == "" {
		return errors.New("user id cannot be empty")
	}
	if len(userID) > maxUserIDLength {
		return errors.Errorf("user id longer than %d characters", maxUserIDLength)
	}
	if !userIDRegex.MatchString(userID) {
		return errors.New("user id contains invalid characters (allowed: alphanumeric, dot, colon, dash, underscore)")
	}
	return nil
}
