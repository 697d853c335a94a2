package security

import (
	"fmt"
	"regexp"
	"strings"
)

// Session ID bounds. Generated ids are UUIDs.
const (
	MinSessionIDLength = 16
	MaxSessionIDLength = 64
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var blockedSessionPatterns = []string{"__proto__", "constructor", "prototype"}

// ValidateSessionID checks a client-chosen session id.
func ValidateSessionID(id string) error {
	switch {
	case len(id) < MinSessionIDLength:
		return fmt.Errorf("session ID too short (min %d characters)", MinSessionIDLength)
	case len(id) > MaxSessionIDLength:
		return fmt.Errorf("session ID too long (max %d characters)", MaxSessionIDLength)
	case !sessionIDPattern.MatchString(id):
		return fmt.Errorf("session ID contains invalid characters (use alphanumeric, hyphens, underscores only)")
	}
	lower := strings.ToLower(id)
	for _, p := range blockedSessionPatterns {
		if strings.Contains(lower, p) {
			return fmt.Errorf("session ID contains blocked pattern")
		}
	}
	return nil
}
