package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aytekaytemur/perseptor/internal/report"
	"github.com/aytekaytemur/perseptor/internal/session"
	"github.com/aytekaytemur/perseptor/internal/store"
)

// handleReports lists stored analysis reports.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	reports, err := s.store.ListReports(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list reports")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	count, err := s.store.CountReports(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"count":   count,
	})
}

// handleReportByID serves DELETE /api/reports/{id} and
// GET /api/reports/{id}/pdf.
func (s *Server) handleReportByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "Report not found")
		return
	}

	if reportID, ok := strings.CutSuffix(rest, "/pdf"); ok {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.serveReportPDF(w, r, reportID)
		return
	}

	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	deleted, err := s.store.DeleteReport(r.Context(), rest)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Report not found")
		return
	}
	log.Info().Str("report_id", rest).Msg("Report deleted")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Report deleted successfully"})
}

func (s *Server) serveReportPDF(w http.ResponseWriter, r *http.Request, reportID string) {
	record, err := s.store.GetReport(r.Context(), reportID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Report not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data, err := report.RenderPDF(record)
	if err != nil {
		log.Error().Err(err).Str("report_id", reportID).Msg("PDF rendering failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	filename := session.SanitizeFilename("perseptor_report_" + record.ID + ".pdf")
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
