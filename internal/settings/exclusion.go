package settings

import (
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Rorqualx/darkmode-go/internal/types"
)

// CompilePattern turns an exclusion pattern into a matcher. A pattern with
// a `*` is an anchored wildcard over the whole URL; any other pattern is a
// substring test.
func CompilePattern(pattern string) (func(url string) bool, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, &types.PatternError{Pattern: pattern, Err: errors.Join(types.ErrInvalidPattern, errors.New("empty pattern"))}
	}
	if !strings.Contains(pattern, "*") {
		return func(url string) bool { return strings.Contains(url, pattern) }, nil
	}

	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, &types.PatternError{Pattern: pattern, Err: errors.Join(types.ErrInvalidPattern, err)}
	}
	return re.MatchString, nil
}

// IsSiteExcluded reports whether url matches any pattern in list. Patterns
// that cannot be used are logged and skipped. logger may be nil.
func IsSiteExcluded(logger *zerolog.Logger, list []string, url string) bool {
	for _, pattern := range list {
		match, err := CompilePattern(pattern)
		if err != nil {
			if logger != nil {
				logger.Warn().Err(err).Msg("Skipping exclusion pattern")
			}
			continue
		}
		if match(url) {
			return true
		}
	}
	return false
}

// AddExclusion appends pattern unless it is blank or already listed. It
// reports whether the list changed.
func AddExclusion(list []string, pattern string) ([]string, bool) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return list, false
	}
	for _, p := range list {
		if p == pattern {
			return list, false
		}
	}
	return append(list, pattern), true
}

// RemoveExclusion drops every occurrence of pattern.
func RemoveExclusion(list []string, pattern string) ([]string, bool) {
	pattern = strings.TrimSpace(pattern)
	out := make([]string, 0, len(list))
	for _, p := range list {
		if p != pattern {
			out = append(out, p)
		}
	}
	return out, len(out) != len(list)
}
