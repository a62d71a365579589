package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/noteparser/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready  bool   `json:"ready"`
	Status string `json:"status"`
}

func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := d.Health.Health()
		status := http.StatusOK
		if !report.Ready() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, readyzResponse{
			Ready:  report.Ready(),
			Status: report.Status,
		})
	}
}
