package ragflow

import (
	"context"

	"github.com/MrSnakeDoc/noteparser/internal/client"
	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/services"
)

// Actions served by Handler.
const (
	ActionIndex           = "index"
	ActionExtractInsights = "extract_insights"
	ActionQuery           = "query"
	ActionStats           = "stats"
)

// Handler plugs ragflow into a managed service. Requests carry an "action"
// field selecting the remote endpoint.
type Handler struct {
	log logger.Logger
}

func NewHandler(log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{log: log.Named("ragflow")}
}

func (h *Handler) Initialize(_ context.Context, c *client.Client) error {
	h.log.Info("ragflow handler ready", logger.String("base_url", c.BaseURL()))
	return nil
}

func (h *Handler) Cleanup(context.Context) error { return nil }

func (h *Handler) Process(ctx context.Context, c *client.Client, req client.Result) (client.Result, error) {
	api := NewClient(c)
	action := services.Action(req)

	switch action {
	case ActionIndex:
		content, err := services.RequireString(req, "content")
		if err != nil {
			return nil, err
		}
		return api.IndexDocument(ctx, content, services.Map(req, "metadata")), nil

	case ActionExtractInsights:
		content, err := services.RequireString(req, "content")
		if err != nil {
			return nil, err
		}
		return api.ExtractInsights(ctx, content, req.Str("insight_type")), nil

	case ActionQuery:
		query, err := services.RequireString(req, "query")
		if err != nil {
			return nil, err
		}
		return api.Query(ctx, query, services.Int(req, "k", DefaultK), services.Map(req, "filters")), nil

	case ActionStats:
		return api.GetStats(ctx), nil

	default:
		return nil, services.UnknownAction("ragflow", action)
	}
}
