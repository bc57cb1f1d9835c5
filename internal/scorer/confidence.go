// Package scorer computes the confidence score attached to every lead.
package scorer

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/sells-group/leadgen/internal/model"
)

// Signals are the boolean inputs of the confidence score.
type Signals struct {
	AddressParsed        bool
	PhonePresent         bool
	WebsitePresent       bool
	WithinSearchRadius   bool
	DirectoryListingOnly bool
}

// Weights in tenths. Summing integers keeps the result exact.
const (
	weightAddress   = 4
	weightPhone     = 2
	weightWebsite   = 2
	weightRadius    = 2
	penaltyListing  = -2
	tenthsPerPoint  = 10
	maxScoreInTenth = 10
)

// Confidence returns the lead quality score in [0, 1]. It depends only on s.
func Confidence(s Signals) float64 {
	tenths := 0
	if s.AddressParsed {
		tenths += weightAddress
	}
	if s.PhonePresent {
		tenths += weightPhone
	}
	if s.WebsitePresent {
		tenths += weightWebsite
	}
	if s.WithinSearchRadius {
		tenths += weightRadius
	}
	if s.DirectoryListingOnly {
		tenths += penaltyListing
	}

	switch {
	case tenths < 0:
		tenths = 0
	case tenths > maxScoreInTenth:
		tenths = maxScoreInTenth
	}
	return float64(tenths) / tenthsPerPoint
}

// directoryHosts are listing sites that do not count as a business website.
var directoryHosts = []string{
	"yelp.com",
	"yellowpages.com",
	"facebook.com",
	"bbb.org",
	"angi.com",
	"angieslist.com",
	"homeadvisor.com",
	"thumbtack.com",
	"mapquest.com",
	"manta.com",
	"superpages.com",
	"nextdoor.com",
	"google.com",
}

// IsDirectoryURL reports whether raw points at a known business directory.
func IsDirectoryURL(raw string) bool {
	host := hostOf(raw)
	if host == "" {
		return false
	}
	for _, d := range directoryHosts {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// SignalsFor derives the confidence inputs for a lead. geocoded reports
// whether the lead's address resolved to coordinates; distance is nil when
// it did not.
func SignalsFor(lead model.RawLead, geocoded bool, distance *float64, radiusMiles int) Signals {
	website := strings.TrimSpace(lead.Website)
	directory := website != "" && IsDirectoryURL(website)
	if website == "" && lead.SourceURL != "" && IsDirectoryURL(lead.SourceURL) {
		directory = true
	}

	return Signals{
		AddressParsed:        geocoded && strings.TrimSpace(lead.Address) != "",
		PhonePresent:         countDigits(lead.Phone) >= 7,
		WebsitePresent:       website != "" && !directory,
		WithinSearchRadius:   distance != nil && *distance <= float64(radiusMiles),
		DirectoryListingOnly: directory,
	}
}

func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
