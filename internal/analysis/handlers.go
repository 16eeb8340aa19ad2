package analysis

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/valuation"
)

const maxUploadSize = int64(20 << 20) // 20MB

// writeJSON encodes v with status
func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeJSONError writes the {"error", "details"} envelope
func writeJSONError(w http.ResponseWriter, status int, message string, details map[string]string) {
	body := map[string]any{"error": message}
	if len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

// writeError maps service errors onto status codes
func writeError(w http.ResponseWriter, err error, details map[string]string) {
	var (
		validationErr *valuation.ValidationError
		parsingErr    *valuation.ParsingError
		modelErr      *valuation.ModelError
	)
	switch {
	case errors.As(err, &validationErr):
		if validationErr.Field != "" {
			if details == nil {
				details = map[string]string{}
			}
			details[validationErr.Field] = validationErr.Message
		}
		writeJSONError(w, http.StatusBadRequest, err.Error(), details)
	case errors.Is(err, valuation.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error(), details)
	case errors.Is(err, valuation.ErrConflict):
		writeJSONError(w, http.StatusConflict, err.Error(), details)
	case errors.As(err, &parsingErr):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error(), details)
	case errors.As(err, &modelErr):
		writeJSONError(w, http.StatusBadGateway, err.Error(), details)
	default:
		slog.Error("Internal error", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error", details)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListAnalyses returns a list of all analyses
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	analyses, err := s.service.ListAnalyses()
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, analyses)
}

// handleCreateAnalysis accepts a multipart upload in "file" or a JSON body
// {"text": "..."} with the document text.
func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "application/json" {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body", nil)
			return
		}
		analysis, err := s.service.CreateAnalysisFromText(r.Context(), req.Text)
		s.respondCreated(w, analysis, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		message := "error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			message = "file is too large, maximum size is 20MB"
		}
		writeJSONError(w, http.StatusBadRequest, message, nil)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "no file provided", map[string]string{"file": "is required"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSONError(w, http.StatusInternalServerError, "error reading file", nil)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".pdf":
			contentType = "application/pdf"
		case ".txt":
			contentType = "text/plain"
		default:
			contentType = http.DetectContentType(data)
		}
	}

	analysis, err := s.service.CreateAnalysis(r.Context(), header.Filename, data, strings.ToLower(strings.TrimSpace(contentType)))
	s.respondCreated(w, analysis, err)
}

func (s *Server) respondCreated(w http.ResponseWriter, analysis *Analysis, err error) {
	if err != nil {
		var details map[string]string
		if analysis != nil {
			details = map[string]string{"analysis_id": analysis.ID, "status": string(analysis.Status)}
		}
		writeError(w, err, details)
		return
	}
	writeJSON(w, http.StatusCreated, analysis)
}

// handleGetAnalysis returns a single analysis
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.service.GetAnalysis(r.PathValue("id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// handleGetDocument returns the archived source document
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetDocument(r.PathValue("id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleUpdateExtraction applies reviewer corrections
func (s *Server) handleUpdateExtraction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vehicle   valuation.VehicleRecord   `json:"vehicle"`
		Financial valuation.FinancialRecord `json:"financial"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	analysis, err := s.service.UpdateExtraction(r.PathValue("id"), req.Vehicle, req.Financial)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// handleVerify confirms the extracted record
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.service.Verify(r.PathValue("id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// handleCreateCosts records workshop costs and returns the report
func (s *Server) handleCreateCosts(w http.ResponseWriter, r *http.Request) {
	var costs valuation.WorkshopCostRecord
	if err := json.NewDecoder(r.Body).Decode(&costs); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	report, err := s.service.CreateWorkshopCosts(r.PathValue("id"), &costs)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// handleGetCosts returns the recorded workshop costs
func (s *Server) handleGetCosts(w http.ResponseWriter, r *http.Request) {
	costs, err := s.service.GetWorkshopCosts(r.PathValue("id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, costs)
}

// handleGetReport returns the profitability report
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Report(r.PathValue("id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleExportReport returns the report as a spreadsheet
func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.service.ExportReportXLSX(id)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="analysis-`+id+`.xlsx"`)
	w.Write(data)
}
