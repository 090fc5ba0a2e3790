package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helixir/citation-harvest-service/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// listTargets handles GET /api/v1/targets. The status query parameter is
// required: an unfiltered dump of every target ever harvested is not a
// useful report.
func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	status := domain.TargetStatus(r.URL.Query().Get("status"))
	switch status {
	case domain.TargetStatusPending, domain.TargetStatusInProgress,
		domain.TargetStatusComplete, domain.TargetStatusStalled:
	case "":
		writeError(w, http.StatusBadRequest, "status query parameter is required")
		return
	default:
		writeError(w, http.StatusBadRequest, "unknown status: "+string(status))
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxListLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = parsed
	}

	targets, err := s.targets.ListByStatus(r.Context(), status, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list targets failed")
		writeError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}

	resp := listTargetsResponse{
		Targets: make([]targetResponse, len(targets)),
		Count:   len(targets),
	}
	for i, t := range targets {
		resp.Targets[i] = domainTargetToResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

// getTarget handles GET /api/v1/targets/{targetID}.
func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "targetID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target ID")
		return
	}

	target, err := s.targets.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "target not found")
			return
		}
		s.logger.Error().Err(err).Str("target_id", id.String()).Msg("get target failed")
		writeError(w, http.StatusInternalServerError, "failed to get target")
		return
	}

	writeJSON(w, http.StatusOK, domainTargetToResponse(target))
}

// getEditionGaps handles GET /api/v1/editions/{editionID}/gaps.
func (s *Server) getEditionGaps(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "editionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid edition ID")
		return
	}

	if _, err := s.editions.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "edition not found")
			return
		}
		s.logger.Error().Err(err).Str("edition_id", id.String()).Msg("get edition failed")
		writeError(w, http.StatusInternalServerError, "failed to get edition")
		return
	}

	summary, err := s.targets.GapSummary(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("edition_id", id.String()).Msg("gap summary failed")
		writeError(w, http.StatusInternalServerError, "failed to summarize gaps")
		return
	}

	writeJSON(w, http.StatusOK, gapSummaryToResponse(summary))
}

// getStallSummary handles GET /api/v1/summary/stalls.
func (s *Server) getStallSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := s.targets.StallSummary(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("stall summary failed")
		writeError(w, http.StatusInternalServerError, "failed to summarize stalls")
		return
	}

	writeJSON(w, http.StatusOK, stallSummaryToResponse(rows))
}
