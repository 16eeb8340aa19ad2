// Package timeunit normalizes labor quantities quoted in time units (UT) or
// hours into hours.
package timeunit

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/money"
)

// Family is the unit a valuation quotes labor in
type Family string

const (
	UT      Family = "UT"
	Hours   Family = "HOURS"
	Mixed   Family = "MIXED"
	Unknown Family = ""
)

// HoursPerUT converts time units to hours: 10 UT make one hour.
const HoursPerUT = 0.1

var (
	utMarker    = regexp.MustCompile(`(?i)(^|[^\p{L}])(u\.\s?t\.?|ut|unidades de tiempo)([^\p{L}]|$)`)
	hoursMarker = regexp.MustCompile(`(?i)(^|[^\p{L}])(horas?|hours?|hrs?|h\.)([^\p{L}]|$)`)
)

// DetectFamily looks for unit markers in each signal. Signals carrying both
// families make the result Mixed; no marker at all is Unknown.
func DetectFamily(signals ...string) Family {
	var ut, hours bool
	for _, s := range signals {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		switch Family(strings.ToUpper(s)) {
		case Mixed:
			return Mixed
		case UT:
			ut = true
			continue
		case Hours:
			hours = true
			continue
		}
		switch tokenFamily(s) {
		case UT:
			ut = true
			continue
		case Hours:
			hours = true
			continue
		}
		if utMarker.MatchString(s) {
			ut = true
		}
		if hoursMarker.MatchString(s) {
			hours = true
		}
	}
	switch {
	case ut && hours:
		return Mixed
	case ut:
		return UT
	case hours:
		return Hours
	default:
		return Unknown
	}
}

// tokenFamily reads a bare unit as printed after a quantity, e.g. "h"
func tokenFamily(token string) Family {
	switch strings.ToLower(strings.ReplaceAll(token, " ", "")) {
	case "ut", "u.t", "u.t.", "unidadesdetiempo":
		return UT
	case "h", "h.", "hr", "hrs", "hrs.", "hora", "horas", "hour", "hours":
		return Hours
	}
	return Unknown
}

// ToHours converts quantity into hours. Mixed and Unknown families fall back
// to the UT ratio and return a warning; the conversion itself never fails.
func ToHours(quantity float64, family Family) (float64, string) {
	switch family {
	case Hours:
		return quantity, ""
	case UT:
		return money.Mul(quantity, HoursPerUT), ""
	case Mixed:
		return money.Mul(quantity, HoursPerUT),
			fmt.Sprintf("document mixes UT and hours, %s treated as UT", money.FormatAmount(quantity))
	default:
		return money.Mul(quantity, HoursPerUT),
			fmt.Sprintf("unknown time unit %q, %s treated as UT", string(family), money.FormatAmount(quantity))
	}
}
