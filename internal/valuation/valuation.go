package valuation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/money"
	"github.com/alexistomaselli/valora-plus-3-sub000/internal/timeunit"
)

// VehicleRecord identifies the vehicle and the valuation document it came from
type VehicleRecord struct {
	LicensePlate      string `json:"license_plate"`
	VIN               string `json:"vin"`
	Manufacturer      string `json:"manufacturer"`
	Model             string `json:"model"`
	InternalReference string `json:"internal_reference"`
	ValuationSystem   string `json:"valuation_system"`
	HourlyRates       string `json:"hourly_rates"`
	ValuationDate     string `json:"valuation_date"`
}

// FinancialRecord holds the monetary figures of a valuation. Amounts are in
// euros with at most two decimals; labor hours are already normalized.
type FinancialRecord struct {
	SparePartsAmount      float64         `json:"spare_parts_amount"`
	SparePartsCount       int             `json:"spare_parts_count"`
	BodyworkLaborQuantity float64         `json:"bodywork_labor_quantity"`
	BodyworkLaborHours    float64         `json:"bodywork_labor_hours"`
	BodyworkLaborAmount   float64         `json:"bodywork_labor_amount"`
	PaintLaborQuantity    float64         `json:"paint_labor_quantity"`
	PaintLaborHours       float64         `json:"paint_labor_hours"`
	PaintLaborAmount      float64         `json:"paint_labor_amount"`
	PaintMaterialAmount   float64         `json:"paint_material_amount"`
	Subtotal              float64         `json:"subtotal"`
	TaxRate               float64         `json:"tax_rate"`
	TaxAmount             float64         `json:"tax_amount"`
	Total                 float64         `json:"total"`
	TimeUnit              timeunit.Family `json:"time_unit"`
}

// ExtractedRecord is the outcome of a successful extraction. Warnings are
// advisory and never block the record.
type ExtractedRecord struct {
	Vehicle    VehicleRecord   `json:"vehicle"`
	Financial  FinancialRecord `json:"financial"`
	Confidence float64         `json:"confidence"`
	Warnings   []string        `json:"warnings"`
}

// WorkshopCostRecord holds what the workshop actually spent on a repair
type WorkshopCostRecord struct {
	SparePartsCost       float64   `json:"spare_parts_cost"`
	BodyworkHours        float64   `json:"bodywork_hours"`
	BodyworkHourlyCost   float64   `json:"bodywork_hourly_cost"`
	PaintHours           float64   `json:"paint_hours"`
	PaintHourlyCost      float64   `json:"paint_hourly_cost"`
	PaintConsumablesCost float64   `json:"paint_consumables_cost"`
	SubcontractorCost    float64   `json:"subcontractor_cost"`
	OtherCost            float64   `json:"other_cost"`
	Notes                string    `json:"notes,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// Validate checks every amount is a non-negative money value and the tax
// rate is a percentage.
func (f *FinancialRecord) Validate() error {
	amounts := []struct {
		field string
		value float64
	}{
		{"spare_parts_amount", f.SparePartsAmount},
		{"bodywork_labor_quantity", f.BodyworkLaborQuantity},
		{"bodywork_labor_hours", f.BodyworkLaborHours},
		{"bodywork_labor_amount", f.BodyworkLaborAmount},
		{"paint_labor_quantity", f.PaintLaborQuantity},
		{"paint_labor_hours", f.PaintLaborHours},
		{"paint_labor_amount", f.PaintLaborAmount},
		{"paint_material_amount", f.PaintMaterialAmount},
		{"subtotal", f.Subtotal},
		{"tax_amount", f.TaxAmount},
		{"total", f.Total},
	}
	for _, a := range amounts {
		if err := checkAmount(a.field, a.value); err != nil {
			return err
		}
	}
	if f.SparePartsCount < 0 {
		return &ValidationError{Field: "spare_parts_count", Message: "must not be negative"}
	}
	if f.TaxRate < 0 || f.TaxRate > 100 {
		return &ValidationError{Field: "tax_rate", Message: "must be between 0 and 100"}
	}
	return nil
}

// Validate checks every cost figure is a non-negative money value
func (c *WorkshopCostRecord) Validate() error {
	costs := []struct {
		field string
		value float64
	}{
		{"spare_parts_cost", c.SparePartsCost},
		{"bodywork_hours", c.BodyworkHours},
		{"bodywork_hourly_cost", c.BodyworkHourlyCost},
		{"paint_hours", c.PaintHours},
		{"paint_hourly_cost", c.PaintHourlyCost},
		{"paint_consumables_cost", c.PaintConsumablesCost},
		{"subcontractor_cost", c.SubcontractorCost},
		{"other_cost", c.OtherCost},
	}
	for _, cost := range costs {
		if err := checkAmount(cost.field, cost.value); err != nil {
			return err
		}
	}
	return nil
}

func checkAmount(field string, value float64) error {
	if value < 0 {
		return &ValidationError{Field: field, Message: "must not be negative"}
	}
	if value > money.MaxAmount {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must not exceed %.2f", money.MaxAmount)}
	}
	return nil
}

var (
	// 1234 BCD, vowels and Q/Ñ are never issued
	currentPlate = regexp.MustCompile(`^[0-9]{4}[BCDFGHJKLMNPRSTVWXYZ]{3}$`)
	// M-1234-AB, provincial prefix
	provincialPlate = regexp.MustCompile(`^[A-Z]{1,2}[0-9]{4}[A-Z]{1,2}$`)
)

// NormalizePlate uppercases a plate and drops spaces and hyphens
func NormalizePlate(plate string) string {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	return strings.NewReplacer(" ", "", "-", "").Replace(plate)
}

// ValidatePlate returns the normalized plate or a ValidationError when it is
// not a Spanish registration.
func ValidatePlate(plate string) (string, error) {
	normalized := NormalizePlate(plate)
	if normalized == "" {
		return "", &ValidationError{Field: "license_plate", Message: "is required"}
	}
	if !currentPlate.MatchString(normalized) && !provincialPlate.MatchString(normalized) {
		return "", &ValidationError{Field: "license_plate", Message: fmt.Sprintf("%q is not a valid Spanish plate", plate)}
	}
	return normalized, nil
}
