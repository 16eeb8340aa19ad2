// Package reconcile checks the arithmetic identities of a valuation. Every
// finding is a warning; nothing here rejects a record.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/money"
)

const (
	// Tolerance applies to the subtotal, tax and total identities
	Tolerance = 0.01
	// CategoryTolerance applies when category incomes are summed against the subtotal
	CategoryTolerance = 1.0
)

// Check verifies subtotal + tax = total and tax = subtotal × rate / 100
func Check(subtotal, taxRate, taxAmount, total float64) []string {
	var warnings []string

	sum := money.Add(subtotal, taxAmount)
	if money.Exceeds(sum, total, Tolerance) {
		warnings = append(warnings, fmt.Sprintf(
			"subtotal %s + tax %s = %s does not match total %s (diff %s)",
			money.FormatAmount(subtotal),
			money.FormatAmount(taxAmount),
			money.FormatAmount(sum),
			money.FormatAmount(total),
			money.FormatAmount(money.Diff(sum, total)),
		))
	}

	expectedTax := money.Div(money.Mul(subtotal, taxRate), 100)
	if money.Exceeds(expectedTax, taxAmount, Tolerance) {
		warnings = append(warnings, fmt.Sprintf(
			"tax %s does not match subtotal %s at %s%% (expected %s, diff %s)",
			money.FormatAmount(taxAmount),
			money.FormatAmount(subtotal),
			money.FormatAmount(taxRate),
			money.FormatAmount(expectedTax),
			money.FormatAmount(money.Diff(expectedTax, taxAmount)),
		))
	}

	return warnings
}

// CheckCategories compares the sum of category incomes with the declared
// subtotal. It returns a warning and true when they drift beyond tolerance.
func CheckCategories(declared float64, categories map[string]float64, tolerance float64) (string, bool) {
	names := make([]string, 0, len(categories))
	values := make([]float64, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values = append(values, categories[name])
	}

	sum := money.Add(values...)
	if !money.Exceeds(sum, declared, tolerance) {
		return "", false
	}
	return fmt.Sprintf(
		"categories (%s) add up to %s but subtotal is %s (diff %s)",
		strings.Join(names, ", "),
		money.FormatAmount(sum),
		money.FormatAmount(declared),
		money.FormatAmount(money.Diff(sum, declared)),
	), true
}
