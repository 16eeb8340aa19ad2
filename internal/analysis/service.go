package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/profitability"
	"github.com/alexistomaselli/valora-plus-3-sub000/internal/reconcile"
	"github.com/alexistomaselli/valora-plus-3-sub000/internal/timeunit"
	"github.com/alexistomaselli/valora-plus-3-sub000/internal/valuation"
)

// IDGenerator generates unique IDs for analyses
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Extractor turns document text or a ready reply into an ExtractedRecord
type Extractor interface {
	Extract(ctx context.Context, documentText string) (*valuation.ExtractedRecord, error)
	FromResponse(reply, documentText string) (*valuation.ExtractedRecord, error)
}

// PrimaryExtractor is the external extraction path tried before the local one
type PrimaryExtractor interface {
	Analyze(ctx context.Context, filename string, data []byte, contentType string) (string, error)
}

// DocumentReader pulls text out of an uploaded document
type DocumentReader interface {
	Text(data []byte, contentType string) (string, error)
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles analysis operations
type Service struct {
	db          DB
	storage     Storage
	extractor   Extractor
	reader      DocumentReader
	primary     PrimaryExtractor
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time
// source. primary may be nil to always use the local path.
func NewService(db DB, storage Storage, extractor Extractor, reader DocumentReader, primary PrimaryExtractor) *Service {
	return NewServiceWithDeps(db, storage, extractor, reader, primary, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, extractor Extractor, reader DocumentReader, primary PrimaryExtractor, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		extractor:   extractor,
		reader:      reader,
		primary:     primary,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename removes special characters and truncates long names
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = unsafeChars.ReplaceAllString(base, "")
	base = spaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "valuation"
	}

	ext = strings.ToLower(unsafeChars.ReplaceAllString(strings.TrimPrefix(ext, "."), ""))
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// CreateAnalysis archives the document and extracts its valuation. The
// analysis is stored before extraction starts and always ends up with either
// an extraction or status failed. A failed analysis is returned along with
// the extraction error.
func (s *Service) CreateAnalysis(ctx context.Context, filename string, data []byte, contentType string) (*Analysis, error) {
	if len(data) == 0 {
		return nil, &valuation.ValidationError{Field: "file", Message: "is empty"}
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	cleanFilename := sanitizeFilename(filename)
	if filepath.Ext(cleanFilename) == "" && strings.HasPrefix(contentType, "text/") {
		cleanFilename += ".txt"
	}

	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", id, cleanFilename), data)
	if err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}

	analysis := &Analysis{
		ID:          id,
		Status:      StatusProcessing,
		Filename:    savedName,
		ContentType: contentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.SaveAnalysis(analysis); err != nil {
		s.storage.Delete(savedName)
		return nil, fmt.Errorf("saving analysis: %w", err)
	}

	record, path, extractErr := s.extract(ctx, cleanFilename, data, contentType)
	now = s.timeSource.Now()

	if extractErr != nil {
		slog.Error("Failed to extract valuation",
			"analysis_id", id,
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"path", path,
			"error", extractErr,
		)
		failed, err := s.db.UpdateAnalysis(id, func(stored *Analysis, _ bool) error {
			stored.ExtractionPath = path
			return stored.fail(extractErr, now)
		})
		if err != nil {
			return nil, fmt.Errorf("saving failed analysis: %w", err)
		}
		return failed, extractErr
	}

	// The sweeper may have failed the analysis while extraction ran
	extracted, err := s.db.UpdateAnalysis(id, func(stored *Analysis, _ bool) error {
		if stored.Status != StatusProcessing {
			return fmt.Errorf("%w: analysis %s was marked %s during extraction", valuation.ErrConflict, id, stored.Status)
		}
		stored.ExtractionPath = path
		stored.Extraction = record
		stored.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("saving extraction: %w", err)
	}

	return extracted, nil
}

// CreateAnalysisFromText stores pasted document text and extracts it
func (s *Service) CreateAnalysisFromText(ctx context.Context, text string) (*Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &valuation.ValidationError{Field: "text", Message: "is empty"}
	}
	return s.CreateAnalysis(ctx, "document.txt", []byte(text), "text/plain; charset=utf-8")
}

// extract tries the primary path once, then the local fallback once
func (s *Service) extract(ctx context.Context, filename string, data []byte, contentType string) (*valuation.ExtractedRecord, Path, error) {
	text, textErr := s.reader.Text(data, contentType)

	if s.primary != nil {
		record, err := s.extractPrimary(ctx, filename, data, contentType, text)
		if err == nil {
			return record, PathPrimary, nil
		}
		slog.Warn("Primary extraction failed, using fallback", "filename", filename, "error", err)
	}

	if textErr != nil {
		return nil, PathFallback, &valuation.ValidationError{Field: "file", Message: fmt.Sprintf("reading document: %v", textErr)}
	}

	record, err := s.extractor.Extract(ctx, text)
	if err != nil {
		return nil, PathFallback, err
	}
	return record, PathFallback, nil
}

func (s *Service) extractPrimary(ctx context.Context, filename string, data []byte, contentType, text string) (*valuation.ExtractedRecord, error) {
	reply, err := s.primary.Analyze(ctx, filename, data, contentType)
	if err != nil {
		return nil, &valuation.ModelError{Err: err}
	}
	return s.extractor.FromResponse(reply, text)
}

// GetAnalysis retrieves an analysis by ID
func (s *Service) GetAnalysis(id string) (*Analysis, error) {
	analysis, err := s.db.GetAnalysis(id)
	if err != nil {
		return nil, fmt.Errorf("getting analysis: %w", err)
	}
	return analysis, nil
}

// ListAnalyses returns all analyses
func (s *Service) ListAnalyses() ([]*Analysis, error) {
	analyses, err := s.db.ListAnalyses()
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	return analyses, nil
}

// GetDocument retrieves the archived source document of an analysis
func (s *Service) GetDocument(id string) ([]byte, string, error) {
	analysis, err := s.db.GetAnalysis(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting analysis: %w", err)
	}

	data, err := s.storage.Get(analysis.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting document: %w", err)
	}

	return data, analysis.ContentType, nil
}

// UpdateExtraction replaces the extracted record with the reviewer's
// corrections. Labor hours are recomputed from the quantities, prior
// verification is cleared, and records with costs are frozen.
func (s *Service) UpdateExtraction(id string, vehicle valuation.VehicleRecord, financial valuation.FinancialRecord) (*Analysis, error) {
	if err := financial.Validate(); err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	analysis, err := s.db.UpdateAnalysis(id, func(analysis *Analysis, costsRecorded bool) error {
		switch {
		case analysis.Status == StatusFailed:
			return fmt.Errorf("%w: analysis %s failed and cannot be corrected", valuation.ErrConflict, id)
		case costsRecorded || analysis.Status == StatusCompleted:
			return fmt.Errorf("%w: analysis %s has workshop costs and is frozen", valuation.ErrConflict, id)
		case analysis.Extraction == nil:
			return fmt.Errorf("%w: analysis %s has no extraction yet", valuation.ErrConflict, id)
		}

		corrected := financial
		if corrected.TimeUnit == timeunit.Unknown {
			corrected.TimeUnit = analysis.Extraction.Financial.TimeUnit
		}
		var warnings []string
		for _, labor := range []struct {
			quantity float64
			hours    *float64
		}{
			{corrected.BodyworkLaborQuantity, &corrected.BodyworkLaborHours},
			{corrected.PaintLaborQuantity, &corrected.PaintLaborHours},
		} {
			hours, warning := timeunit.ToHours(labor.quantity, corrected.TimeUnit)
			*labor.hours = hours
			if warning != "" && labor.quantity != 0 {
				warnings = append(warnings, warning)
			}
		}
		warnings = append(warnings, reconcile.Check(corrected.Subtotal, corrected.TaxRate, corrected.TaxAmount, corrected.Total)...)

		analysis.Extraction.Vehicle = vehicle
		analysis.Extraction.Financial = corrected
		analysis.Extraction.Warnings = append([]string{}, warnings...)
		analysis.VerifiedAt = nil
		analysis.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating extraction: %w", err)
	}
	return analysis, nil
}

// Verify records the reviewer's confirmation of the extracted record. The
// license plate must be a Spanish registration. Verifying a completed
// analysis returns it unchanged.
func (s *Service) Verify(id string) (*Analysis, error) {
	now := s.timeSource.Now()
	analysis, err := s.db.UpdateAnalysis(id, func(analysis *Analysis, costsRecorded bool) error {
		switch {
		case analysis.Status == StatusFailed:
			return fmt.Errorf("%w: analysis %s failed and cannot be verified", valuation.ErrConflict, id)
		case analysis.Status == StatusCompleted || costsRecorded:
			return errUnchanged
		case analysis.Extraction == nil:
			return fmt.Errorf("%w: analysis %s has no extraction yet", valuation.ErrConflict, id)
		}

		plate, err := valuation.ValidatePlate(analysis.Extraction.Vehicle.LicensePlate)
		if err != nil {
			return err
		}
		if err := analysis.Extraction.Financial.Validate(); err != nil {
			return err
		}

		analysis.Extraction.Vehicle.LicensePlate = plate
		analysis.VerifiedAt = &now
		analysis.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verifying analysis: %w", err)
	}
	return analysis, nil
}

// CreateWorkshopCosts records the workshop's real costs once, completes the
// analysis and returns the profitability report.
func (s *Service) CreateWorkshopCosts(id string, costs *valuation.WorkshopCostRecord) (*profitability.Report, error) {
	if costs == nil {
		return nil, &valuation.ValidationError{Field: "costs", Message: "are required"}
	}
	if err := costs.Validate(); err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	costs.CreatedAt = now

	var report *profitability.Report
	_, err := s.db.SaveWorkshopCosts(id, costs, func(analysis *Analysis) error {
		if analysis.Status == StatusFailed {
			return fmt.Errorf("%w: analysis %s failed", valuation.ErrConflict, id)
		}
		if analysis.Extraction == nil || analysis.VerifiedAt == nil {
			return &valuation.ValidationError{Field: "verified_at", Message: "the valuation must be verified before recording costs"}
		}

		var err error
		report, err = profitability.Calculate(&analysis.Extraction.Financial, costs)
		if err != nil {
			return err
		}
		return analysis.transition(StatusCompleted, now)
	})
	if err != nil {
		return nil, fmt.Errorf("saving workshop costs: %w", err)
	}

	slog.Info("Analysis completed",
		"analysis_id", id,
		"income", report.Income,
		"cost", report.Cost,
		"margin_percent", report.MarginPercent,
	)
	return report, nil
}

// GetWorkshopCosts returns the costs recorded for an analysis
func (s *Service) GetWorkshopCosts(id string) (*valuation.WorkshopCostRecord, error) {
	costs, err := s.db.GetWorkshopCosts(id)
	if err != nil {
		return nil, fmt.Errorf("getting workshop costs: %w", err)
	}
	return costs, nil
}

// Report recomputes the profitability report of a completed analysis
func (s *Service) Report(id string) (*profitability.Report, error) {
	analysis, err := s.db.GetAnalysis(id)
	if err != nil {
		return nil, fmt.Errorf("getting analysis: %w", err)
	}
	if analysis.Status != StatusCompleted || analysis.Extraction == nil {
		return nil, fmt.Errorf("%w: analysis %s is %s", valuation.ErrNotFound, id, analysis.Status)
	}
	costs, err := s.db.GetWorkshopCosts(id)
	if err != nil {
		return nil, fmt.Errorf("getting workshop costs: %w", err)
	}
	return profitability.Calculate(&analysis.Extraction.Financial, costs)
}

// FailStale marks analyses still processing without an extraction after
// olderThan as failed. It returns how many were marked.
func (s *Service) FailStale(olderThan time.Duration) (int, error) {
	analyses, err := s.db.ListAnalyses()
	if err != nil {
		return 0, fmt.Errorf("listing analyses: %w", err)
	}

	now := s.timeSource.Now()
	stale := func(analysis *Analysis) bool {
		return analysis.Status == StatusProcessing && analysis.Extraction == nil && now.Sub(analysis.CreatedAt) >= olderThan
	}

	failed := 0
	for _, listed := range analyses {
		if !stale(listed) {
			continue
		}
		// Re-checked in the transaction: extraction may have finished since the listing
		marked := false
		_, err := s.db.UpdateAnalysis(listed.ID, func(analysis *Analysis, _ bool) error {
			if !stale(analysis) {
				return errUnchanged
			}
			marked = true
			return analysis.fail(fmt.Errorf("extraction did not finish within %s", olderThan), now)
		})
		if err != nil {
			return failed, fmt.Errorf("failing analysis %s: %w", listed.ID, err)
		}
		if !marked {
			continue
		}
		slog.Warn("Marked stale analysis as failed", "analysis_id", listed.ID, "created_at", listed.CreatedAt)
		failed++
	}
	return failed, nil
}
