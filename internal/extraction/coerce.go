package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/money"
)

const defaultConfidence = 0.5

// coercer turns untyped model values into typed fields. Every fallback to a
// default is recorded as a warning.
type coercer struct {
	warnings []string
}

func (c *coercer) warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

func (c *coercer) text(section map[string]any, name, key string) string {
	switch v := section[key].(type) {
	case nil:
		c.warn("%s.%s missing", name, key)
		return ""
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			c.warn("%s.%s missing", name, key)
		}
		return s
	case json.Number:
		return v.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (c *coercer) amount(section map[string]any, name, key string) float64 {
	v, err := money.ParseAmount(section[key])
	c.check(err, name, key, section[key])
	return v
}

func (c *coercer) percentage(section map[string]any, name, key string) float64 {
	v, err := money.ParsePercentage(section[key])
	c.check(err, name, key, section[key])
	return v
}

func (c *coercer) quantity(section map[string]any, name, key string) float64 {
	v, err := money.ParseQuantity(section[key])
	c.check(err, name, key, section[key])
	return v
}

func (c *coercer) count(section map[string]any, name, key string) int {
	v, err := money.ParseQuantity(section[key])
	c.check(err, name, key, section[key])
	if v != math.Trunc(v) {
		c.warn("%s.%s %v is not a whole number, rounded", name, key, section[key])
	}
	return int(math.Round(v))
}

func (c *coercer) check(err error, name, key string, raw any) {
	switch {
	case err == nil:
	case errors.Is(err, money.ErrEmpty):
		c.warn("%s.%s missing, defaulted to 0", name, key)
	default:
		c.warn("%s.%s %v rejected (%v), defaulted to 0", name, key, raw, err)
	}
}

var dateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2006/01/02",
	"02/01/06",
}

// date normalizes a valuation date to YYYY-MM-DD. Unknown layouts are kept
// as printed with a warning.
func (c *coercer) date(section map[string]any, name, key string) string {
	raw := c.text(section, name, key)
	if raw == "" {
		return ""
	}
	for _, format := range dateFormats {
		if d, err := time.Parse(format, raw); err == nil {
			return d.Format("2006-01-02")
		}
	}
	c.warn("%s.%s %q is not a recognised date", name, key, raw)
	return raw
}

// confidence clamps the model's self-reported certainty into [0, 1]
func confidence(raw any) float64 {
	var v float64
	switch x := raw.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return defaultConfidence
		}
		v = f
	case float64:
		v = x
	case string:
		x = strings.TrimSpace(x)
		sign := 1.0
		if strings.HasPrefix(x, "-") {
			sign, x = -1, x[1:]
		}
		f, err := money.ParseQuantity(x)
		if err != nil {
			return defaultConfidence
		}
		v = sign * f
	default:
		return defaultConfidence
	}
	if math.IsNaN(v) {
		return defaultConfidence
	}
	return money.Round2(math.Max(0, math.Min(1, v)))
}

// modelWarnings keeps the string entries of the model's own warnings list
func modelWarnings(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	warnings := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			warnings = append(warnings, "model: "+strings.TrimSpace(s))
		}
	}
	return warnings
}
