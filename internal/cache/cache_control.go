package cache

import (
	"strconv"
	"strings"
	"time"
)

// Directive holds the Cache-Control directives that influence how long an
// upstream response may be cached.
type Directive struct {
	MaxAge  *time.Duration
	SMaxAge *time.Duration
	NoCache bool
	NoStore bool
	Private bool
}

// ParseCacheControl reads a Cache-Control header value. Unknown directives and
// malformed or negative ages are ignored.
func ParseCacheControl(header string) Directive {
	var d Directive
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, value, hasValue := strings.Cut(part, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if !hasValue {
			switch name {
			case "no-cache":
				d.NoCache = true
			case "no-store":
				d.NoStore = true
			case "private":
				d.Private = true
			}
			continue
		}

		age, ok := parseAge(value)
		if !ok {
			continue
		}
		switch name {
		case "max-age":
			d.MaxAge = &age
		case "s-maxage":
			d.SMaxAge = &age
		}
	}
	return d
}

func parseAge(value string) (time.Duration, bool) {
	value = strings.Trim(strings.TrimSpace(value), `"`)
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

// TTL returns the lifetime the directive grants. ok is false when the header
// carries no caching instruction and the caller should use its own default.
//
// Precedence:
//  1. no-cache, no-store or private: zero (do not cache)
//  2. s-maxage
//  3. max-age
func (d Directive) TTL() (ttl time.Duration, ok bool) {
	if d.NoCache || d.NoStore || d.Private {
		return 0, true
	}
	if d.SMaxAge != nil {
		return *d.SMaxAge, true
	}
	if d.MaxAge != nil {
		return *d.MaxAge, true
	}
	return 0, false
}

// EffectiveTTL resolves the TTL for an upstream response. A zero result means
// the response must not be cached. ceiling <= 0 disables clamping.
func EffectiveTTL(d Directive, fallback, ceiling time.Duration) time.Duration {
	ttl, ok := d.TTL()
	if !ok {
		ttl = fallback
	}
	if ttl <= 0 {
		return 0
	}
	if ceiling > 0 && ttl > ceiling {
		return ceiling
	}
	return ttl
}
