package analysis

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/timeunit"
	"github.com/alexistomaselli/valora-plus-3-sub000/internal/valuation"
)

var _ = Describe("BoltDB", func() {
	var (
		db        *BoltDB
		createdAt time.Time
	)

	BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
		createdAt = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	newAnalysis := func(id string) *Analysis {
		return &Analysis{
			ID:          id,
			Status:      StatusProcessing,
			Extraction:  sampleRecord(),
			Filename:    id + "_doc.pdf",
			ContentType: "application/pdf",
			CreatedAt:   createdAt,
			UpdatedAt:   createdAt,
		}
	}

	Describe("SaveAnalysis and GetAnalysis", func() {
		It("round-trips the analysis", func() {
			Expect(db.SaveAnalysis(newAnalysis("an-1"))).To(Succeed())

			got, err := db.GetAnalysis("an-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(StatusProcessing))
			Expect(got.CreatedAt.Equal(createdAt)).To(BeTrue())
			Expect(got.Extraction.Financial.Subtotal).To(Equal(2000.0))
			Expect(got.Extraction.Financial.TimeUnit).To(Equal(timeunit.UT))
		})

		It("overwrites an existing analysis", func() {
			analysis := newAnalysis("an-1")
			Expect(db.SaveAnalysis(analysis)).To(Succeed())

			analysis.Status = StatusFailed
			analysis.ErrorMessage = "boom"
			Expect(db.SaveAnalysis(analysis)).To(Succeed())

			got, err := db.GetAnalysis("an-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(StatusFailed))
			Expect(got.ErrorMessage).To(Equal("boom"))
		})

		It("returns not found for unknown IDs", func() {
			_, err := db.GetAnalysis("missing")
			Expect(err).To(MatchError(valuation.ErrNotFound))
		})
	})

	Describe("ListAnalyses", func() {
		It("returns an empty list", func() {
			analyses, err := db.ListAnalyses()
			Expect(err).NotTo(HaveOccurred())
			Expect(analyses).To(BeEmpty())
		})

		It("returns all analyses", func() {
			Expect(db.SaveAnalysis(newAnalysis("an-1"))).To(Succeed())
			Expect(db.SaveAnalysis(newAnalysis("an-2"))).To(Succeed())

			analyses, err := db.ListAnalyses()
			Expect(err).NotTo(HaveOccurred())
			Expect(analyses).To(HaveLen(2))
		})
	})

	Describe("SaveAnalysis over a terminal analysis", func() {
		It("refuses a stale copy that would reopen it", func() {
			stale := newAnalysis("an-1")
			Expect(db.SaveAnalysis(stale)).To(Succeed())

			completed := newAnalysis("an-1")
			completed.Status = StatusCompleted
			Expect(db.SaveAnalysis(completed)).To(Succeed())

			Expect(db.SaveAnalysis(stale)).To(MatchError(valuation.ErrConflict))
			got, err := db.GetAnalysis("an-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(StatusCompleted))
		})
	})

	Describe("UpdateAnalysis", func() {
		BeforeEach(func() {
			Expect(db.SaveAnalysis(newAnalysis("an-1"))).To(Succeed())
		})

		It("stores what fn changed", func() {
			seen := true
			updated, err := db.UpdateAnalysis("an-1", func(analysis *Analysis, costsRecorded bool) error {
				seen = costsRecorded
				analysis.ErrorMessage = "checked"
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(BeFalse())
			Expect(updated.ErrorMessage).To(Equal("checked"))

			got, err := db.GetAnalysis("an-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ErrorMessage).To(Equal("checked"))
		})

		It("tells fn when costs were recorded", func() {
			_, err := db.SaveWorkshopCosts("an-1", sampleCosts(), func(analysis *Analysis) error {
				return analysis.transition(StatusCompleted, createdAt)
			})
			Expect(err).NotTo(HaveOccurred())

			var seen bool
			_, err = db.UpdateAnalysis("an-1", func(analysis *Analysis, costsRecorded bool) error {
				seen = costsRecorded
				return errUnchanged
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(BeTrue())
		})

		It("writes nothing when fn fails", func() {
			_, err := db.UpdateAnalysis("an-1", func(analysis *Analysis, _ bool) error {
				analysis.ErrorMessage = "half done"
				return errors.New("rejected")
			})
			Expect(err).To(MatchError("rejected"))

			got, err := db.GetAnalysis("an-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ErrorMessage).To(BeEmpty())
		})

		It("returns the stored analysis when fn leaves it unchanged", func() {
			got, err := db.UpdateAnalysis("an-1", func(analysis *Analysis, _ bool) error {
				analysis.ErrorMessage = "discarded"
				return errUnchanged
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("an-1"))
			Expect(got.ErrorMessage).To(BeEmpty())
		})

		It("never moves a terminal analysis to another status", func() {
			_, err := db.UpdateAnalysis("an-1", func(analysis *Analysis, _ bool) error {
				analysis.Status = StatusCompleted
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = db.UpdateAnalysis("an-1", func(analysis *Analysis, _ bool) error {
				analysis.Status = StatusProcessing
				return nil
			})
			Expect(err).To(MatchError(valuation.ErrConflict))

			got, err := db.GetAnalysis("an-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(StatusCompleted))
		})

		It("returns not found for unknown IDs", func() {
			_, err := db.UpdateAnalysis("missing", func(*Analysis, bool) error { return nil })
			Expect(err).To(MatchError(valuation.ErrNotFound))
		})
	})

	Describe("SaveWorkshopCosts", func() {
		complete := func(analysis *Analysis) error {
			return analysis.transition(StatusCompleted, createdAt)
		}

		BeforeEach(func() {
			Expect(db.SaveAnalysis(newAnalysis("an-1"))).To(Succeed())
		})

		It("stores the costs and the analysis together", func() {
			saved, err := db.SaveWorkshopCosts("an-1", sampleCosts(), complete)
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Status).To(Equal(StatusCompleted))

			costs, err := db.GetWorkshopCosts("an-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(costs.SparePartsCost).To(Equal(500.0))

			got, err := db.GetAnalysis("an-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(StatusCompleted))
		})

		It("rejects a second write and keeps the first", func() {
			_, err := db.SaveWorkshopCosts("an-1", sampleCosts(), complete)
			Expect(err).NotTo(HaveOccurred())

			second := sampleCosts()
			second.SparePartsCost = 1
			_, err = db.SaveWorkshopCosts("an-1", second, complete)
			Expect(err).To(MatchError(valuation.ErrConflict))

			costs, err := db.GetWorkshopCosts("an-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(costs.SparePartsCost).To(Equal(500.0))
		})

		It("writes nothing when fn rejects the analysis", func() {
			_, err := db.SaveWorkshopCosts("an-1", sampleCosts(), func(*Analysis) error {
				return &valuation.ValidationError{Field: "verified_at", Message: "missing"}
			})
			var validationErr *valuation.ValidationError
			Expect(errors.As(err, &validationErr)).To(BeTrue())

			_, err = db.GetWorkshopCosts("an-1")
			Expect(err).To(MatchError(valuation.ErrNotFound))
			got, err := db.GetAnalysis("an-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(StatusProcessing))
		})

		It("returns not found for unknown analyses", func() {
			_, err := db.SaveWorkshopCosts("missing", sampleCosts(), complete)
			Expect(err).To(MatchError(valuation.ErrNotFound))
		})
	})

	Describe("GetWorkshopCosts", func() {
		It("returns not found when no costs were recorded", func() {
			_, err := db.GetWorkshopCosts("an-1")
			Expect(err).To(MatchError(valuation.ErrNotFound))
		})
	})

	Describe("NewBoltDB", func() {
		It("persists across reopen", func() {
			path := filepath.Join(GinkgoT().TempDir(), "reopen.db")
			first, err := NewBoltDB(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.SaveAnalysis(newAnalysis("an-9"))).To(Succeed())
			Expect(first.Close()).To(Succeed())

			second, err := NewBoltDB(path)
			Expect(err).NotTo(HaveOccurred())
			defer second.Close()
			got, err := second.GetAnalysis("an-9")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("an-9"))
		})
	})
})
