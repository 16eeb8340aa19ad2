package analysis

import (
	"fmt"
	"time"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/valuation"
)

// Status is the lifecycle state of an analysis
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Path records which extraction route produced the record
type Path string

const (
	PathPrimary  Path = "primary"
	PathFallback Path = "fallback"
)

// Analysis tracks one valuation document from upload to profitability report
type Analysis struct {
	ID             string                     `json:"id"`
	Status         Status                     `json:"status"`
	ErrorMessage   string                     `json:"error_message,omitempty"`
	Extraction     *valuation.ExtractedRecord `json:"extraction,omitempty"`
	ExtractionPath Path                       `json:"extraction_path,omitempty"`
	VerifiedAt     *time.Time                 `json:"verified_at,omitempty"`
	Filename       string                     `json:"filename"`
	ContentType    string                     `json:"content_type"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// transition moves the analysis to status. Repeating the current status is
// a no-op; leaving a terminal status is a conflict.
func (a *Analysis) transition(to Status, now time.Time) error {
	if a.Status == to {
		return nil
	}
	if a.Status != StatusProcessing {
		return fmt.Errorf("%w: analysis %s is %s", valuation.ErrConflict, a.ID, a.Status)
	}
	a.Status = to
	a.UpdatedAt = now
	return nil
}

// fail marks the analysis failed with the reason
func (a *Analysis) fail(reason error, now time.Time) error {
	if err := a.transition(StatusFailed, now); err != nil {
		return err
	}
	a.ErrorMessage = reason.Error()
	return nil
}

// checkStored rejects a write that would move a stored terminal analysis to
// another status. Stores call it with the status they read in the same
// transaction, so a stale copy cannot reopen a completed analysis.
func checkStored(id string, stored, next Status) error {
	if stored == next || stored == StatusProcessing || stored == "" {
		return nil
	}
	return fmt.Errorf("%w: analysis %s is already %s", valuation.ErrConflict, id, stored)
}
