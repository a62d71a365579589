package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/noteparser/internal/httpserver/deps"
	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/orchestrator"
	redisstore "github.com/MrSnakeDoc/noteparser/internal/store/redis"
)

type componentStatus struct {
	OK     bool   `json:"ok"`
	Mode   string `json:"mode,omitempty"`
	Impact string `json:"impact,omitempty"`
	Error  string `json:"error,omitempty"`
}

type servicesResponse struct {
	orchestrator.Report
	Components map[string]componentStatus       `json:"components"`
	Snapshots  []redisstore.Snapshot            `json:"snapshots,omitempty"`
	Checks     map[string]redisstore.CheckStats `json:"checks,omitempty"`
}

// Services reports the cached health of every registered service, plus the
// last-known snapshots and check counters from Redis when the store is
// configured.
func Services(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := servicesResponse{
			Report:     d.Health.Health(),
			Components: map[string]componentStatus{"redis": checkRedis(r.Context(), d)},
		}

		if d.Snapshots != nil && resp.Components["redis"].OK {
			snaps, err := d.Snapshots.AllSnapshots(r.Context())
			if err != nil {
				d.Logger.Warn("failed to read health snapshots", logger.Error(err))
			} else {
				resp.Snapshots = snaps
			}
			checks, err := d.Snapshots.GetCheckStats(r.Context())
			if err != nil {
				d.Logger.Warn("failed to read health check counters", logger.Error(err))
			} else {
				resp.Checks = checks
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{
			OK:     false,
			Mode:   "disabled",
			Impact: "health-snapshots-disabled",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "health-snapshots-unavailable",
			Error:  err.Error(),
		}
	}

	return componentStatus{
		OK:     true,
		Mode:   "optimal",
		Impact: "health-snapshots-enabled",
	}
}
