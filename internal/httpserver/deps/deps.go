package deps

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/noteparser/internal/client"
	"github.com/MrSnakeDoc/noteparser/internal/httpserver/mw"
	"github.com/MrSnakeDoc/noteparser/internal/integration"
	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/orchestrator"
	"github.com/MrSnakeDoc/noteparser/internal/scheduler"
	redisstore "github.com/MrSnakeDoc/noteparser/internal/store/redis"
)

// Workflows is the integration façade as seen by the API.
type Workflows interface {
	ProcessDocument(ctx context.Context, doc integration.Document) client.Result
	QueryKnowledge(ctx context.Context, query string, filters map[string]any) client.Result
	OrganizeKnowledge(ctx context.Context) client.Result
}

type HealthReporter interface {
	Health() orchestrator.Report
}

type ClientProbe interface {
	Latest() (scheduler.ProbeResult, bool)
	Probe(ctx context.Context) scheduler.ProbeResult
}

type SnapshotReader interface {
	AllSnapshots(ctx context.Context) ([]redisstore.Snapshot, error)
	GetCheckStats(ctx context.Context) (map[string]redisstore.CheckStats, error)
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	AllowedCIDRS []string           // IPs allowed to access readyz, metrics and service details
	TrustProxy   bool               // true if running behind a trusted reverse proxy
	RateLimit    mw.RateLimitConfig // applied to the workflow routes
	MaxBodyBytes int64              // request body cap for workflow routes, 0 => 10 MiB

	Workflows   Workflows      // integration façade
	Health      HealthReporter // orchestrator health report
	Clients     ClientProbe    // plain client probe
	Snapshots   SnapshotReader // nil when Redis is not configured
	RedisClient *redis.Client  // nil when Redis is not configured
}
