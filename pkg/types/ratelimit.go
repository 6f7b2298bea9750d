package types

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// DefaultRetryAfter applies when a 429 response carries no usable Retry-After.
const DefaultRetryAfter = 60 * time.Second

// RateLimitInfo is the server's view of the caller's request budget.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// ParseRateLimit reads the X-RateLimit-* headers. ok is false when the
// response carries none of them. Reset may be Unix seconds or a timestamp.
func ParseRateLimit(h http.Header) (info RateLimitInfo, ok bool) {
	limit := strings.TrimSpace(h.Get(HeaderRateLimitLimit))
	remaining := strings.TrimSpace(h.Get(HeaderRateLimitRemaining))
	reset := strings.TrimSpace(h.Get(HeaderRateLimitReset))
	if limit == "" && remaining == "" && reset == "" {
		return RateLimitInfo{}, false
	}

	info.Limit, _ = strconv.Atoi(limit)
	info.Remaining, _ = strconv.Atoi(remaining)
	if secs, err := strconv.ParseInt(reset, 10, 64); err == nil {
		info.ResetAt = time.Unix(secs, 0).UTC()
	} else if t, err := ParseTime(reset); err == nil {
		info.ResetAt = t
	}
	return info, true
}

// ParseRetryAfter interprets a Retry-After value given in seconds or as an
// HTTP date. Missing or malformed values yield DefaultRetryAfter.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return DefaultRetryAfter
}
