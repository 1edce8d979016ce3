package fetchup

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CacheDirectives represents parsed Cache-Control directives.
type CacheDirectives struct {
	NoStore        bool
	NoCache        bool
	MaxAge         *time.Duration
	MustRevalidate bool
	Public         bool
	Private        bool
}

// parseCacheControl parses Cache-Control header into structured directives.
func parseCacheControl(header string) *CacheDirectives {
	directives := &CacheDirectives{}
	if header == "" {
		return directives
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}

		if key, value, ok := strings.Cut(part, "="); ok {
			value = strings.Trim(strings.TrimSpace(value), "\"")
			if strings.TrimSpace(key) == "max-age" {
				if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
					maxAge := time.Duration(seconds) * time.Second
					directives.MaxAge = &maxAge
				}
			}
			continue
		}

		switch part {
		case "no-store":
			directives.NoStore = true
		case "no-cache":
			directives.NoCache = true
		case "must-revalidate":
			directives.MustRevalidate = true
		case "public":
			directives.Public = true
		case "private":
			directives.Private = true
		}
	}

	return directives
}

// parseHTTPDate parses the date formats allowed in Expires and Last-Modified.
func parseHTTPDate(header string) *time.Time {
	if header == "" {
		return nil
	}
	if t, err := http.ParseTime(header); err == nil {
		return &t
	}
	return nil
}

const (
	// heuristicFraction of the Last-Modified age is used as lifetime when a
	// response carries no explicit freshness.
	heuristicFraction = 10
	maxHeuristicAge   = 24 * time.Hour
)

var cacheableStatus = map[int]bool{
	http.StatusOK:                   true,
	http.StatusNonAuthoritativeInfo: true,
	http.StatusNoContent:            true,
	http.StatusPartialContent:       true,
	http.StatusMultipleChoices:      true,
	http.StatusMovedPermanently:     true,
	http.StatusNotFound:             true,
	http.StatusMethodNotAllowed:     true,
	http.StatusGone:                 true,
	http.StatusRequestURITooLong:    true,
	http.StatusNotImplemented:       true,
}

// policyExpiry decides whether the policy cache may keep a response and until
// when. Only GET responses with a cacheable status and explicit or heuristic
// freshness qualify.
func policyExpiry(method string, statusCode int, header http.Header, receivedAt time.Time) (time.Time, bool) {
	if method != http.MethodGet || !cacheableStatus[statusCode] {
		return time.Time{}, false
	}

	cacheControl := parseCacheControl(header.Get("Cache-Control"))
	if cacheControl.NoStore || cacheControl.NoCache {
		return time.Time{}, false
	}

	// max-age wins over Expires
	if cacheControl.MaxAge != nil {
		if *cacheControl.MaxAge == 0 {
			return time.Time{}, false
		}
		return receivedAt.Add(*cacheControl.MaxAge), true
	}

	if header.Get("Expires") != "" {
		expires := parseHTTPDate(header.Get("Expires"))
		if expires == nil || !expires.After(receivedAt) {
			return time.Time{}, false
		}
		return *expires, true
	}

	if lastModified := parseHTTPDate(header.Get("Last-Modified")); lastModified != nil && lastModified.Before(receivedAt) {
		lifetime := receivedAt.Sub(*lastModified) / heuristicFraction
		if lifetime > maxHeuristicAge {
			lifetime = maxHeuristicAge
		}
		if lifetime > 0 {
			return receivedAt.Add(lifetime), true
		}
	}

	return time.Time{}, false
}

// isFresh reports whether a policy entry can be served at now.
func isFresh(entry *CacheEntry, now time.Time) bool {
	return entry != nil && !entry.ExpiresAt.IsZero() && now.Before(entry.ExpiresAt)
}
