package deepwiki

import (
	"context"

	"github.com/MrSnakeDoc/noteparser/internal/client"
	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/services"
)

// Actions served by Handler.
const (
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionGet      = "get"
	ActionSearch   = "search"
	ActionAsk      = "ask"
	ActionLink     = "link"
	ActionGraph    = "graph"
	ActionSimilar  = "similar"
	ActionOrganize = "organize"
)

type Handler struct {
	log logger.Logger
}

func NewHandler(log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{log: log.Named("deepwiki")}
}

func (h *Handler) Initialize(_ context.Context, c *client.Client) error {
	h.log.Info("deepwiki handler ready", logger.String("base_url", c.BaseURL()))
	return nil
}

func (h *Handler) Cleanup(context.Context) error { return nil }

func (h *Handler) Process(ctx context.Context, c *client.Client, req client.Result) (client.Result, error) {
	api := NewClient(c)
	action := services.Action(req)

	switch action {
	case ActionCreate:
		return api.CreateArticle(ctx, req.Str("title"), req.Str("content"), services.Map(req, "metadata")), nil

	case ActionUpdate:
		id, err := services.RequireString(req, "article_id")
		if err != nil {
			return nil, err
		}
		return api.UpdateArticle(ctx, id, services.Map(req, "updates")), nil

	case ActionGet:
		id, err := services.RequireString(req, "article_id")
		if err != nil {
			return nil, err
		}
		return api.GetArticle(ctx, id), nil

	case ActionSearch:
		query, err := services.RequireString(req, "query")
		if err != nil {
			return nil, err
		}
		return api.Search(ctx, query, services.Int(req, "limit", DefaultSearchLimit)), nil

	case ActionAsk:
		question, err := services.RequireString(req, "question")
		if err != nil {
			return nil, err
		}
		return api.AskAssistant(ctx, question, services.Strings(req, "context_articles")), nil

	case ActionLink:
		id, err := services.RequireString(req, "article_id")
		if err != nil {
			return nil, err
		}
		return h.link(ctx, api, id, services.Int(req, "limit", DefaultSimilarLimit)), nil

	case ActionGraph:
		return api.GetLinkGraph(ctx, req.Str("article_id"), services.Int(req, "depth", DefaultGraphDepth)), nil

	case ActionSimilar:
		id, err := services.RequireString(req, "article_id")
		if err != nil {
			return nil, err
		}
		return api.FindSimilar(ctx, id, services.Int(req, "limit", DefaultSimilarLimit)), nil

	case ActionOrganize:
		return api.Organize(ctx), nil

	default:
		return nil, services.UnknownAction("deepwiki", action)
	}
}

// link connects an article to its most similar articles: it asks for
// candidates, then stores their ids as the article links.
func (h *Handler) link(ctx context.Context, api *Client, articleID string, limit int) client.Result {
	similar := api.FindSimilar(ctx, articleID, limit)
	if _, failed := client.IsErrorResult(similar); failed {
		return similar
	}

	ids := similarIDs(similar, articleID)
	if len(ids) == 0 {
		h.log.Debug("no similar articles to link", logger.String("article_id", articleID))
		return client.Result{"article_id": articleID, "links": []string{}}
	}

	updated := api.UpdateArticle(ctx, articleID, map[string]any{"links": ids})
	if _, failed := client.IsErrorResult(updated); failed {
		return updated
	}
	return client.Result{"article_id": articleID, "links": ids, "article": map[string]any(updated)}
}

// similarIDs collects article ids from a similarity response. The list may sit
// under "similar", "articles" or "results" and hold ids or article objects.
func similarIDs(res client.Result, self string) []string {
	var items []any
	for _, key := range []string{"similar", "articles", "results", "data"} {
		if list, ok := res[key].([]any); ok {
			items = list
			break
		}
	}

	ids := make([]string, 0, len(items))
	seen := map[string]bool{self: true}
	for _, item := range items {
		var id string
		switch v := item.(type) {
		case string:
			id = v
		case map[string]any:
			id, _ = v["article_id"].(string)
			if id == "" {
				id, _ = v["id"].(string)
			}
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
