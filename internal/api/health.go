package api

import (
	"net/http"

	"github.com/lakekeeper/lakekeeper/internal/health"
)

// HealthResponse aggregates the per-dependency probe results.
type HealthResponse struct {
	Status string          `json:"status"`
	Health []health.Status `json:"health"`
}

// HandleHealth reports the latest probe snapshot. An unhealthy dependency
// turns the aggregate status but the endpoint still answers 200 so load
// balancers can read the detail.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Health: []health.Status{}}
	if s.Health != nil {
		resp.Health = s.Health.Snapshot()
		if !s.Health.Healthy() {
			resp.Status = "unhealthy"
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}
