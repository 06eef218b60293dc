package httpcache

import (
	"net/http"
	"time"
)

// Preset TTLs. These are documented defaults, not limits.
const (
	ShortTermTTL  = 5 * time.Minute
	MediumTermTTL = 15 * time.Minute
	LongTermTTL   = time.Hour
	UserTTL       = 15 * time.Minute
	ReportTTL     = 30 * time.Minute
	AnalyticsTTL  = 10 * time.Minute
)

// ShortTerm caches for five minutes. Suited to listings that change often.
func ShortTerm() Config {
	return Config{TTL: ShortTermTTL}
}

// MediumTerm caches for fifteen minutes.
func MediumTerm() Config {
	return Config{TTL: MediumTermTTL}
}

// LongTerm caches for an hour and compresses stored bodies. Suited to
// reference data.
func LongTerm() Config {
	return Config{TTL: LongTermTTL, Compress: true}
}

// UserSpecific partitions the cache per authenticated principal.
func UserSpecific(principal func(*http.Request) string) Config {
	return Config{
		TTL:       UserTTL,
		VaryBy:    VaryBy{Principal: true},
		Principal: principal,
	}
}

// Report caches generated reports under the "reports" tag so report
// mutations can drop them all at once.
func Report() Config {
	return Config{TTL: ReportTTL, Tags: StaticTags("reports")}
}

// Analytics caches analytics queries under the "analytics" tag, varying by
// the given query parameters.
func Analytics(params ...string) Config {
	return Config{
		TTL:    AnalyticsTTL,
		Tags:   StaticTags("analytics"),
		VaryBy: VaryBy{Query: params},
	}
}
