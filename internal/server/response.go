package server

import (
	"time"

	"github.com/helixir/citation-harvest-service/internal/domain"
	"github.com/helixir/citation-harvest-service/internal/repository"
)

// Target response types for JSON serialization.

type targetResponse struct {
	ID                  string    `json:"id"`
	EditionID           string    `json:"edition_id"`
	YearLow             int       `json:"year_low,omitempty"`
	YearHigh            int       `json:"year_high,omitempty"`
	Status              string    `json:"status"`
	GapReason           string    `json:"gap_reason,omitempty"`
	ExpectedCount       int       `json:"expected_count"`
	ActualCount         int       `json:"actual_count"`
	PagesAttempted      int       `json:"pages_attempted"`
	PagesSucceeded      int       `json:"pages_succeeded"`
	PagesFailed         int       `json:"pages_failed"`
	LastScrapedPage     int       `json:"last_scraped_page"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ResidualGap         int       `json:"residual_gap"`
	NeedsReview         bool      `json:"needs_review"`
	ReviewNotes         string    `json:"review_notes,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type listTargetsResponse struct {
	Targets []targetResponse `json:"targets"`
	Count   int              `json:"count"`
}

type gapSummaryResponse struct {
	EditionID     string `json:"edition_id"`
	Targets       int    `json:"targets"`
	ExpectedTotal int    `json:"expected_total"`
	ActualTotal   int    `json:"actual_total"`
	ResidualTotal int    `json:"residual_total"`
	Stalled       int    `json:"stalled"`
}

type stallSummaryResponse struct {
	Stalls []stallRowResponse `json:"stalls"`
	Total  int                `json:"total"`
}

type stallRowResponse struct {
	GapReason string `json:"gap_reason"`
	Count     int    `json:"count"`
}

// Converter functions

func domainTargetToResponse(t *domain.HarvestTarget) targetResponse {
	return targetResponse{
		ID:                  t.ID.String(),
		EditionID:           t.EditionID.String(),
		YearLow:             t.Years.Low,
		YearHigh:            t.Years.High,
		Status:              string(t.Status),
		GapReason:           string(t.GapReason),
		ExpectedCount:       t.ExpectedCount,
		ActualCount:         t.ActualCount,
		PagesAttempted:      t.PagesAttempted,
		PagesSucceeded:      t.PagesSucceeded,
		PagesFailed:         t.PagesFailed,
		LastScrapedPage:     t.LastScrapedPage,
		ConsecutiveFailures: t.ConsecutiveFailures,
		ResidualGap:         t.ResidualGap,
		NeedsReview:         t.NeedsReview,
		ReviewNotes:         t.ReviewNotes,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

func gapSummaryToResponse(g *repository.GapSummary) gapSummaryResponse {
	return gapSummaryResponse{
		EditionID:     g.EditionID.String(),
		Targets:       g.Targets,
		ExpectedTotal: g.ExpectedTotal,
		ActualTotal:   g.ActualTotal,
		ResidualTotal: g.ResidualTotal,
		Stalled:       g.Stalled,
	}
}

func stallSummaryToResponse(rows []repository.StallSummaryRow) stallSummaryResponse {
	resp := stallSummaryResponse{Stalls: make([]stallRowResponse, len(rows))}
	for i, row := range rows {
		resp.Stalls[i] = stallRowResponse{
			GapReason: string(row.GapReason),
			Count:     row.Count,
		}
		resp.Total += row.Count
	}
	return resp
}
