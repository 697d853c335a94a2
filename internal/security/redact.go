package security

import (
	"net/url"
	"strings"
)

// sensitiveParams are substrings of query parameter names whose values are
// replaced in logs.
var sensitiveParams = []string{
	"password", "passwd", "pwd", "secret", "token", "key",
	"auth", "bearer", "credential", "session", "sid", "private",
}

// RedactURL strips credentials and secret-looking query values from rawURL
// for logging. Relative references are accepted.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}
	if u.User != nil {
		u.User = url.User("[REDACTED]")
	}
	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			lower := strings.ToLower(name)
			for _, s := range sensitiveParams {
				if strings.Contains(lower, s) {
					q[name] = []string{"[REDACTED]"}
					break
				}
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
