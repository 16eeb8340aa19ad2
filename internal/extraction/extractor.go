// Package extraction turns valuation document text into a validated
// ExtractedRecord using a text-generation model.
package extraction

import (
	"context"
	"log/slog"
	"strings"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/money"
	"github.com/alexistomaselli/valora-plus-3-sub000/internal/reconcile"
	"github.com/alexistomaselli/valora-plus-3-sub000/internal/scanning"
	"github.com/alexistomaselli/valora-plus-3-sub000/internal/timeunit"
	"github.com/alexistomaselli/valora-plus-3-sub000/internal/valuation"
)

// Extractor runs the extraction pipeline against a Generator
type Extractor struct {
	generator scanning.Generator
}

// NewExtractor creates a new Extractor
func NewExtractor(generator scanning.Generator) *Extractor {
	return &Extractor{generator: generator}
}

// Extract asks the model for the valuation figures in documentText and
// coerces its reply. Warnings never fail the extraction.
func (e *Extractor) Extract(ctx context.Context, documentText string) (*valuation.ExtractedRecord, error) {
	if strings.TrimSpace(documentText) == "" {
		return nil, &valuation.ValidationError{Field: "document_text", Message: "is empty"}
	}

	reply, err := e.generator.Generate(ctx, buildPrompt(documentText), scanning.GenerateOptions{
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	})
	if err != nil {
		slog.Error("Failed to generate extraction", "text_length", len(documentText), "error", err)
		return nil, &valuation.ModelError{Err: err}
	}

	return e.FromResponse(reply, documentText)
}

// FromResponse coerces a reply that was already obtained, e.g. from the
// extraction webhook. documentText may be empty; it only helps detect the
// labor time unit.
func (e *Extractor) FromResponse(reply, documentText string) (*valuation.ExtractedRecord, error) {
	raw, err := isolateJSON(reply)
	if err != nil {
		return nil, &valuation.ParsingError{Reason: "no JSON object found", Err: err}
	}

	data, err := decodeObject(raw)
	if err != nil {
		return nil, &valuation.ParsingError{Reason: "invalid JSON", Err: err}
	}

	if err := validateSections(raw); err != nil {
		return nil, &valuation.ParsingError{Reason: "vehicle and financial sections are required", Err: err}
	}

	vehicleData := data["vehicle"].(map[string]any)
	financialData := data["financial"].(map[string]any)

	c := &coercer{}

	vehicle := valuation.VehicleRecord{
		LicensePlate:      c.text(vehicleData, "vehicle", "license_plate"),
		VIN:               c.text(vehicleData, "vehicle", "vin"),
		Manufacturer:      c.text(vehicleData, "vehicle", "manufacturer"),
		Model:             c.text(vehicleData, "vehicle", "model"),
		InternalReference: c.text(vehicleData, "vehicle", "internal_reference"),
		ValuationSystem:   c.text(vehicleData, "vehicle", "valuation_system"),
		HourlyRates:       c.text(vehicleData, "vehicle", "hourly_rates"),
		ValuationDate:     c.date(vehicleData, "vehicle", "valuation_date"),
	}

	financial := valuation.FinancialRecord{
		SparePartsAmount:      c.amount(financialData, "financial", "spare_parts_amount"),
		SparePartsCount:       c.count(financialData, "financial", "spare_parts_count"),
		BodyworkLaborQuantity: c.quantity(financialData, "financial", "bodywork_labor_quantity"),
		BodyworkLaborAmount:   c.amount(financialData, "financial", "bodywork_labor_amount"),
		PaintLaborQuantity:    c.quantity(financialData, "financial", "paint_labor_quantity"),
		PaintLaborAmount:      c.amount(financialData, "financial", "paint_labor_amount"),
		PaintMaterialAmount:   c.amount(financialData, "financial", "paint_material_amount"),
		Subtotal:              c.amount(financialData, "financial", "subtotal"),
		TaxRate:               c.percentage(financialData, "financial", "tax_rate"),
		TaxAmount:             c.amount(financialData, "financial", "tax_amount"),
		Total:                 c.amount(financialData, "financial", "total"),
	}

	family := timeunit.DetectFamily(
		declaredUnit(financialData["time_unit"]),
		quantityUnit(financialData["bodywork_labor_quantity"]),
		quantityUnit(financialData["paint_labor_quantity"]),
	)
	if family == timeunit.Unknown {
		// nothing usable declared, fall back to markers in the document
		family = timeunit.DetectFamily(documentText)
	}
	financial.BodyworkLaborHours = toHours(c, financial.BodyworkLaborQuantity, family)
	financial.PaintLaborHours = toHours(c, financial.PaintLaborQuantity, family)
	financial.TimeUnit = family
	if family == timeunit.Unknown {
		financial.TimeUnit = timeunit.UT
	}

	record := &valuation.ExtractedRecord{
		Vehicle:    vehicle,
		Financial:  financial,
		Confidence: confidence(data["confidence"]),
		Warnings:   make([]string, 0, len(c.warnings)),
	}
	record.Warnings = append(record.Warnings, c.warnings...)
	record.Warnings = append(record.Warnings, reconcile.Check(financial.Subtotal, financial.TaxRate, financial.TaxAmount, financial.Total)...)
	record.Warnings = append(record.Warnings, modelWarnings(data["warnings"])...)

	slog.Info("Extracted valuation",
		"license_plate", vehicle.LicensePlate,
		"subtotal", financial.Subtotal,
		"time_unit", financial.TimeUnit,
		"confidence", record.Confidence,
		"warnings", len(record.Warnings),
	)

	return record, nil
}

func declaredUnit(raw any) string {
	s, _ := raw.(string)
	return s
}

// quantityUnit returns the unit printed after a quantity, as in "12,5 UT"
func quantityUnit(raw any) string {
	s, ok := raw.(string)
	if !ok {
		return ""
	}
	_, unit := money.SplitUnit(s)
	return unit
}

func toHours(c *coercer, quantity float64, family timeunit.Family) float64 {
	if quantity == 0 {
		return 0
	}
	hours, warning := timeunit.ToHours(quantity, family)
	if warning != "" {
		c.warn("%s", warning)
	}
	return hours
}
