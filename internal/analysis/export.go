package analysis

import (
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/profitability"
)

const reportSheet = "Rentabilidad"

// ExportReportXLSX renders the profitability report of a completed analysis
// as a spreadsheet.
func (s *Service) ExportReportXLSX(id string) ([]byte, error) {
	analysis, err := s.GetAnalysis(id)
	if err != nil {
		return nil, err
	}
	report, err := s.Report(id)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	sheet := &sheetWriter{f: f, name: reportSheet}
	write := sheet.write

	vehicle := analysis.Extraction.Vehicle
	header := [][2]any{
		{"Matrícula", vehicle.LicensePlate},
		{"Vehículo", fmt.Sprintf("%s %s", vehicle.Manufacturer, vehicle.Model)},
		{"Referencia", vehicle.InternalReference},
		{"Sistema", vehicle.ValuationSystem},
		{"Fecha valoración", vehicle.ValuationDate},
	}
	row := 1
	for _, h := range header {
		write(row, 1, h[0])
		write(row, 2, h[1])
		row++
	}
	row++

	for i, title := range []string{"Categoría", "Ingreso", "Coste", "Margen", "Margen %"} {
		write(row, i+1, title)
	}
	row++

	lines := []struct {
		name     string
		category profitability.Category
	}{
		{"Recambios", report.SpareParts.Category},
		{"Mano de obra chapa", report.BodyworkLabor},
		{"Mano de obra pintura", report.PaintLabor},
		{"Material de pintura", report.PaintMaterial},
		{"Subcontratas", report.Subcontractors},
		{"Otros", report.Other},
	}
	for _, line := range lines {
		write(row, 1, line.name)
		if !line.category.CostOnly {
			write(row, 2, line.category.Income)
		}
		write(row, 3, line.category.Cost)
		write(row, 4, line.category.Margin)
		if line.category.MarginPercent != nil {
			write(row, 5, *line.category.MarginPercent)
		}
		row++
	}

	write(row, 1, "Total")
	write(row, 2, report.Income)
	write(row, 3, report.Cost)
	write(row, 4, report.MarginAmount)
	write(row, 5, report.MarginPercent)
	row++

	if report.SpareParts.MarginPerUnit != nil {
		row++
		write(row, 1, "Margen por recambio")
		write(row, 2, *report.SpareParts.MarginPerUnit)
		write(row, 3, fmt.Sprintf("%d unidades", report.SpareParts.Units))
		row++
	}

	for _, warning := range report.Warnings {
		row++
		write(row, 1, "Aviso")
		write(row, 2, warning)
	}

	sheet.width("A", "A", 26)
	sheet.width("B", "E", 16)
	if sheet.err != nil {
		return nil, sheet.err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	slog.Info("Exported report", "analysis_id", id, "bytes", buf.Len())
	return buf.Bytes(), nil
}

// sheetWriter keeps the first error so the layout code stays linear
type sheetWriter struct {
	f    *excelize.File
	name string
	err  error
}

func (w *sheetWriter) write(row, col int, v any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = fmt.Errorf("cell name: %w", err)
		return
	}
	if err := w.f.SetCellValue(w.name, cell, v); err != nil {
		w.err = fmt.Errorf("writing %s: %w", cell, err)
	}
}

func (w *sheetWriter) width(from, to string, width float64) {
	if w.err != nil {
		return
	}
	if err := w.f.SetColWidth(w.name, from, to, width); err != nil {
		w.err = fmt.Errorf("column width %s:%s: %w", from, to, err)
	}
}
