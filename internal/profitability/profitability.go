// Package profitability compares a verified valuation with what the
// workshop actually spent.
package profitability

import (
	"log/slog"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/money"
	"github.com/alexistomaselli/valora-plus-3-sub000/internal/reconcile"
	"github.com/alexistomaselli/valora-plus-3-sub000/internal/valuation"
)

// Category is the income, cost and margin of one part of the repair.
// Cost-only categories have no income and no margin percentage.
type Category struct {
	Income        float64  `json:"income"`
	Cost          float64  `json:"cost"`
	Margin        float64  `json:"margin"`
	MarginPercent *float64 `json:"margin_percent"`
	CostOnly      bool     `json:"cost_only,omitempty"`
}

// SparePartsCategory adds unit figures to the spare parts category
type SparePartsCategory struct {
	Category
	Units         int      `json:"units"`
	MarginPerUnit *float64 `json:"margin_per_unit"`
}

// Report is derived on demand and never stored
type Report struct {
	Income         float64            `json:"income"`
	Cost           float64            `json:"cost"`
	MarginAmount   float64            `json:"margin_amount"`
	MarginPercent  float64            `json:"margin_percent"`
	SpareParts     SparePartsCategory `json:"spare_parts"`
	BodyworkLabor  Category           `json:"bodywork_labor"`
	PaintLabor     Category           `json:"paint_labor"`
	PaintMaterial  Category           `json:"paint_material"`
	Subcontractors Category           `json:"subcontractors"`
	Other          Category           `json:"other"`
	Warnings       []string           `json:"warnings"`
}

// Calculate builds the report. Income is always the tax-exclusive subtotal.
func Calculate(financial *valuation.FinancialRecord, costs *valuation.WorkshopCostRecord) (*Report, error) {
	if financial == nil {
		return nil, &valuation.ValidationError{Field: "financial", Message: "verified valuation is required"}
	}
	if costs == nil {
		return nil, &valuation.ValidationError{Field: "costs", Message: "workshop costs are required"}
	}
	if financial.Subtotal <= 0 {
		return nil, &valuation.ValidationError{Field: "subtotal", Message: "must be greater than zero"}
	}

	bodyworkCost := money.Mul(costs.BodyworkHours, costs.BodyworkHourlyCost)
	paintCost := money.Mul(costs.PaintHours, costs.PaintHourlyCost)

	totalCost := money.Add(
		costs.SparePartsCost,
		bodyworkCost,
		paintCost,
		costs.PaintConsumablesCost,
		costs.SubcontractorCost,
		costs.OtherCost,
	)
	if totalCost < 0 {
		return nil, &valuation.ValidationError{Field: "costs", Message: "total cost must not be negative"}
	}

	income := money.Round2(financial.Subtotal)
	margin := money.Sub(income, totalCost)

	report := &Report{
		Income:        income,
		Cost:          totalCost,
		MarginAmount:  margin,
		MarginPercent: money.Percent(margin, income),
		SpareParts: SparePartsCategory{
			Category: category(financial.SparePartsAmount, costs.SparePartsCost),
			Units:    financial.SparePartsCount,
		},
		BodyworkLabor:  category(financial.BodyworkLaborAmount, bodyworkCost),
		PaintLabor:     category(financial.PaintLaborAmount, paintCost),
		PaintMaterial:  category(financial.PaintMaterialAmount, costs.PaintConsumablesCost),
		Subcontractors: costOnly(costs.SubcontractorCost),
		Other:          costOnly(costs.OtherCost),
		Warnings:       []string{},
	}

	if financial.SparePartsCount > 0 {
		perUnit := money.Div(report.SpareParts.Margin, float64(financial.SparePartsCount))
		report.SpareParts.MarginPerUnit = &perUnit
	}

	warning, drifted := reconcile.CheckCategories(income, map[string]float64{
		"spare_parts":    financial.SparePartsAmount,
		"bodywork_labor": financial.BodyworkLaborAmount,
		"paint_labor":    financial.PaintLaborAmount,
		"paint_material": financial.PaintMaterialAmount,
	}, reconcile.CategoryTolerance)
	if drifted {
		slog.Warn("Category incomes do not add up to subtotal", "subtotal", income, "warning", warning)
		report.Warnings = append(report.Warnings, warning)
	}

	return report, nil
}

func category(income, cost float64) Category {
	c := Category{
		Income: money.Round2(income),
		Cost:   money.Round2(cost),
		Margin: money.Sub(income, cost),
	}
	if c.Income > 0 {
		pct := money.Percent(c.Margin, c.Income)
		c.MarginPercent = &pct
	}
	return c
}

func costOnly(cost float64) Category {
	cost = money.Round2(cost)
	return Category{Cost: cost, Margin: -cost, CostOnly: true}
}
