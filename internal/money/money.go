// Package money coerces loosely formatted numbers from valuation documents
// into two-decimal euro amounts and does rounded arithmetic on them.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmount is the largest amount a valuation may carry
const MaxAmount = 999999.99

var (
	ErrEmpty      = errors.New("empty value")
	ErrUnparsable = errors.New("unparsable number")
	ErrNegative   = errors.New("negative value")
	ErrOutOfRange = errors.New("value out of range")
)

var maxAmount = decimal.NewFromFloat(MaxAmount)

// ParseAmount coerces raw into a non-negative amount rounded to two decimals.
// Failures return 0 together with the reason.
func ParseAmount(raw any) (float64, error) {
	d, err := parse(raw, false)
	if err != nil {
		return 0, err
	}
	if d.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: %s exceeds %.2f", ErrOutOfRange, d.String(), MaxAmount)
	}
	return d.Round(2).InexactFloat64(), nil
}

// ParsePercentage is ParseAmount for percentages. A trailing % is accepted
// and values above 100 are rejected.
func ParsePercentage(raw any) (float64, error) {
	d, err := parse(raw, true)
	if err != nil {
		return 0, err
	}
	if d.GreaterThan(decimal.NewFromInt(100)) {
		return 0, fmt.Errorf("%w: %s%% exceeds 100%%", ErrOutOfRange, d.String())
	}
	return d.Round(2).InexactFloat64(), nil
}

// unitSuffix matches a labor time unit printed right after a quantity
var unitSuffix = regexp.MustCompile(`(?i)^(.*[0-9.,])\s*(u\.\s?t\.?|ut|unidades de tiempo|horas?|hours?|hrs?\.?|h\.?)$`)

// SplitUnit separates a trailing time unit such as "UT" or "h" from a
// quantity string. The unit is empty when none is printed.
func SplitUnit(s string) (string, string) {
	m := unitSuffix.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return s, ""
	}
	return m[1], m[2]
}

// ParseQuantity coerces labor quantities and part counts. A trailing time
// unit is ignored; timeunit decides what it means.
func ParseQuantity(raw any) (float64, error) {
	if s, ok := raw.(string); ok {
		raw, _ = SplitUnit(s)
	}
	d, err := parse(raw, false)
	if err != nil {
		return 0, err
	}
	if d.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: %s exceeds %.2f", ErrOutOfRange, d.String(), MaxAmount)
	}
	return d.Round(2).InexactFloat64(), nil
}

// FormatAmount renders an amount the way ParseAmount reads it back
func FormatAmount(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func parse(raw any, percent bool) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch v := raw.(type) {
	case nil:
		return decimal.Zero, ErrEmpty
	case float64:
		d = decimal.NewFromFloat(v)
	case float32:
		d = decimal.NewFromFloat32(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	case json.Number:
		// a JSON number literal always uses a dot decimal mark
		var err error
		if d, err = decimal.NewFromString(string(v)); err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrUnparsable, string(v))
		}
	case string:
		return parseString(v, percent)
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported type %T", ErrUnparsable, raw)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNegative, d.String())
	}
	return d, nil
}

var stripper = strings.NewReplacer(
	"€", "", "EUR", "", "eur", "", "Eur", "", "$", "",
	" ", "", "\t", "", "\u00a0", "", "\u202f", "",
)

func parseString(s string, percent bool) (decimal.Decimal, error) {
	original := s
	s = stripper.Replace(strings.TrimSpace(s))
	if percent {
		s = strings.TrimSuffix(s, "%")
	}
	if s == "" {
		return decimal.Zero, ErrEmpty
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}

	normalized, ok := normalizeSeparators(s)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnparsable, original)
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnparsable, original)
	}
	if negative && !d.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNegative, original)
	}
	return d, nil
}

// normalizeSeparators turns a digit string with comma or dot grouping into a
// plain dot-decimal number.
//
// Both separators present: the last one is the decimal mark.
// One separator repeated: thousands grouping.
// One separator once: thousands when exactly three digits follow and the
// integer part is not zero, decimal otherwise.
func normalizeSeparators(s string) (string, bool) {
	for _, r := range s {
		if (r < '0' || r > '9') && r != ',' && r != '.' {
			return "", false
		}
	}

	commas := strings.Count(s, ",")
	dots := strings.Count(s, ".")

	switch {
	case commas > 0 && dots > 0:
		lastComma := strings.LastIndex(s, ",")
		lastDot := strings.LastIndex(s, ".")
		decimalSep, groupSep := ",", "."
		if lastDot > lastComma {
			decimalSep, groupSep = ".", ","
		}
		if strings.Count(s, decimalSep) > 1 {
			return "", false
		}
		s = strings.ReplaceAll(s, groupSep, "")
		s = strings.Replace(s, decimalSep, ".", 1)
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case dots > 1:
		s = strings.ReplaceAll(s, ".", "")
	case commas == 1 || dots == 1:
		sep := ","
		if dots == 1 {
			sep = "."
		}
		idx := strings.Index(s, sep)
		intPart, fracPart := s[:idx], s[idx+1:]
		if len(fracPart) == 3 && intPart != "" && strings.TrimLeft(intPart, "0") != "" {
			s = intPart + fracPart
		} else {
			s = intPart + "." + fracPart
		}
	}

	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "." {
		return "", false
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	return s, true
}
