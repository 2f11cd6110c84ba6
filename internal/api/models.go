package api

import "github.com/mauricioprb/run-ranking/internal/domain"

// LoginResponse is returned by the OAuth callback.
type LoginResponse struct {
	RunnerID int64  `json:"runner_id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}

// RankingResponse wraps the ranking rows.
type RankingResponse struct {
	Entries []domain.RankingEntry `json:"entries"`
}

// SetActiveRequest is the body of PUT /v1/runners/{id}/active.
type SetActiveRequest struct {
	Active *bool `json:"active"`
}
