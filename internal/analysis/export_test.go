package analysis

import (
	"bytes"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/valuation"
)

var _ = Describe("ExportReportXLSX", func() {
	var (
		db      *mockDB
		service *Service
	)

	BeforeEach(func() {
		db = newMockDB()
		createdAt := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
		service = NewServiceWithDeps(db, newMockStorage(), &mockExtractor{record: sampleRecord()}, &mockReader{}, nil,
			&fixedIDGenerator{ids: []string{"an-1"}}, &fixedTimeSource{now: createdAt})

		record := sampleRecord()
		record.Vehicle.LicensePlate = "1234BCD"
		db.analyses["an-1"] = &Analysis{
			ID:         "an-1",
			Status:     StatusProcessing,
			Extraction: record,
			VerifiedAt: &createdAt,
			CreatedAt:  createdAt,
			UpdatedAt:  createdAt,
		}
	})

	When("the analysis is completed", func() {
		var f *excelize.File

		BeforeEach(func() {
			_, err := service.CreateWorkshopCosts("an-1", sampleCosts())
			Expect(err).NotTo(HaveOccurred())

			data, err := service.ExportReportXLSX("an-1")
			Expect(err).NotTo(HaveOccurred())
			f, err = excelize.OpenReader(bytes.NewReader(data))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(f.Close)
		})

		It("uses the report sheet", func() {
			Expect(f.GetSheetList()).To(Equal([]string{reportSheet}))
		})

		It("writes the vehicle header", func() {
			Expect(f.GetCellValue(reportSheet, "B1")).To(Equal("1234BCD"))
			Expect(f.GetCellValue(reportSheet, "B2")).To(Equal("SEAT Leon"))
		})

		It("writes the category rows and totals", func() {
			rows, err := f.GetRows(reportSheet)
			Expect(err).NotTo(HaveOccurred())

			byName := map[string][]string{}
			for _, row := range rows {
				if len(row) > 0 {
					byName[row[0]] = row
				}
			}
			Expect(byName["Total"]).To(Equal([]string{"Total", "2000", "890", "1110", "55.5"}))
			Expect(byName["Recambios"]).To(HaveLen(5))
			Expect(byName["Recambios"][:4]).To(Equal([]string{"Recambios", "1000", "500", "500"}))
		})
	})

	When("the analysis has no costs yet", func() {
		It("returns not found", func() {
			_, err := service.ExportReportXLSX("an-1")
			Expect(err).To(MatchError(valuation.ErrNotFound))
		})
	})
})

var _ = Describe("sheetWriter", func() {
	var (
		f     *excelize.File
		sheet *sheetWriter
	)

	BeforeEach(func() {
		f = excelize.NewFile()
		DeferCleanup(f.Close)
		sheet = &sheetWriter{f: f, name: "Sheet1"}
	})

	It("writes cells by row and column", func() {
		sheet.write(2, 3, "margen")
		sheet.width("A", "C", 20)
		Expect(sheet.err).NotTo(HaveOccurred())
		Expect(f.GetCellValue("Sheet1", "C2")).To(Equal("margen"))
	})

	It("keeps the first invalid coordinate and skips later writes", func() {
		sheet.write(0, 1, "lost")
		sheet.write(1, 1, "skipped")
		Expect(sheet.err).To(MatchError(ContainSubstring("cell name")))
		Expect(f.GetCellValue("Sheet1", "A1")).To(BeEmpty())
	})

	It("reports an invalid column width", func() {
		sheet.width("A", "A", excelize.MaxColumnWidth+1)
		Expect(sheet.err).To(MatchError(ContainSubstring("column width A:A")))
	})

	It("reports a missing sheet", func() {
		sheet.name = "Missing"
		sheet.write(1, 1, "x")
		Expect(sheet.err).To(MatchError(ContainSubstring("writing A1")))
	})
})
