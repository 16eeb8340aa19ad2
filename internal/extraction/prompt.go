package extraction

import (
	"fmt"
	"strings"
)

const (
	// Temperature keeps the model close to deterministic
	Temperature = 0.1
	// MaxTokens bounds the reply, the JSON needs far less
	MaxTokens = 2048
)

// valuationPrompt is the shared prompt used by all providers. The document
// text is appended at the end.
const valuationPrompt = `You are analyzing the text of a Spanish automotive insurance repair valuation (Audatex, GT Motive or SilverDAT). Carefully read all of it and extract the following information.

**vehicle**
1. license_plate: the registration ("Matrícula"), e.g. "1234 BCD" or "M-1234-AB".
2. vin: the chassis number ("Bastidor", "VIN"), 17 characters.
3. manufacturer: the make ("Marca"), e.g. "SEAT", "Renault".
4. model: the model and version ("Modelo").
5. internal_reference: the claim or file number ("Referencia", "Nº siniestro", "Expediente").
6. valuation_system: "Audatex", "GT Motive", "SilverDAT" or the name printed on the document.
7. hourly_rates: the labor rates as printed, e.g. "Chapa 42,00 €/h; Pintura 45,00 €/h".
8. valuation_date: the valuation date ("Fecha de valoración") as YYYY-MM-DD.

**financial**
1. spare_parts_amount: total of replacement parts ("Total recambios", "Repuestos"), before tax.
2. spare_parts_count: number of part lines.
3. bodywork_labor_quantity: bodywork labor time ("Mano de obra chapa", "M.O. carrocería") exactly as quoted, in UT or hours.
4. bodywork_labor_amount: bodywork labor amount before tax.
5. paint_labor_quantity: paint labor time ("Mano de obra pintura") exactly as quoted.
6. paint_labor_amount: paint labor amount before tax.
7. paint_material_amount: paint materials ("Material de pintura"), before tax.
8. subtotal: total before tax ("Base imponible", "Total sin IVA").
9. tax_rate: VAT percentage ("IVA"), usually 21.
10. tax_amount: VAT amount.
11. total: total including VAT ("Total con IVA", "Total reparación").
12. time_unit: "UT" when labor is quoted in time units (10 UT = 1 hour), "HOURS" when in hours, "MIXED" when both appear.

Return ONLY valid JSON in this exact format:
{
  "vehicle": {
    "license_plate": "", "vin": "", "manufacturer": "", "model": "",
    "internal_reference": "", "valuation_system": "", "hourly_rates": "", "valuation_date": ""
  },
  "financial": {
    "spare_parts_amount": 0.00, "spare_parts_count": 0,
    "bodywork_labor_quantity": 0.0, "bodywork_labor_amount": 0.00,
    "paint_labor_quantity": 0.0, "paint_labor_amount": 0.00,
    "paint_material_amount": 0.00,
    "subtotal": 0.00, "tax_rate": 21, "tax_amount": 0.00, "total": 0.00,
    "time_unit": "UT"
  },
  "confidence": 0.0,
  "warnings": []
}

Important:
- Amounts are numbers with a dot decimal separator and no currency symbol (1.234,56 € becomes 1234.56)
- Check that subtotal + tax_amount = total and tax_amount = subtotal × tax_rate / 100, and add a warning when the document disagrees
- Do not convert labor quantities, report them in the unit the document uses
- confidence is your certainty between 0 and 1
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks

Document text:
`

// buildPrompt appends the document text to the shared prompt
func buildPrompt(documentText string) string {
	var b strings.Builder
	b.WriteString(valuationPrompt)
	fmt.Fprintf(&b, "<<<\n%s\n>>>\n", strings.TrimSpace(documentText))
	return b.String()
}
