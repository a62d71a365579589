// Package deepwiki talks to the wiki and knowledge-graph service: articles,
// search, the AI assistant and the link graph.
package deepwiki

import (
	"context"
	"net/url"
	"strconv"

	"github.com/MrSnakeDoc/noteparser/internal/client"
)

const (
	DefaultTitle        = "Untitled"
	DefaultSearchLimit  = 10
	DefaultSimilarLimit = 5
	DefaultGraphDepth   = 2
)

// Client is the typed API of the deepwiki service. Every method is a boundary
// call: failures come back as the structured error result.
type Client struct {
	c *client.Client
}

func NewClient(c *client.Client) *Client {
	return &Client{c: c}
}

// Raw exposes the underlying resilient client.
func (w *Client) Raw() *client.Client { return w.c }

func (w *Client) CreateArticle(ctx context.Context, title, content string, metadata map[string]any) client.Result {
	if title == "" {
		title = DefaultTitle
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return w.c.Post(ctx, "article", map[string]any{
		"title":    title,
		"content":  content,
		"metadata": metadata,
	})
}

func (w *Client) UpdateArticle(ctx context.Context, articleID string, updates map[string]any) client.Result {
	if updates == nil {
		updates = map[string]any{}
	}
	return w.c.Post(ctx, "article/"+url.PathEscape(articleID), updates)
}

func (w *Client) GetArticle(ctx context.Context, articleID string) client.Result {
	return w.c.Get(ctx, "article/"+url.PathEscape(articleID))
}

func (w *Client) Search(ctx context.Context, query string, limit int) client.Result {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return w.c.Post(ctx, "search", map[string]any{
		"query": query,
		"limit": limit,
	})
}

// AskAssistant asks a question, optionally scoped to some articles. A nil
// contextArticles is sent as JSON null.
func (w *Client) AskAssistant(ctx context.Context, question string, contextArticles []string) client.Result {
	return w.c.Post(ctx, "ask", map[string]any{
		"question":         question,
		"context_articles": contextArticles,
	})
}

// GetLinkGraph returns the link graph around articleID, or the whole graph
// when articleID is empty.
func (w *Client) GetLinkGraph(ctx context.Context, articleID string, depth int) client.Result {
	if depth <= 0 {
		depth = DefaultGraphDepth
	}
	params := url.Values{"depth": {strconv.Itoa(depth)}}
	if articleID != "" {
		params.Set("article_id", articleID)
	}
	return w.c.GetWithParams(ctx, "graph", params)
}

func (w *Client) FindSimilar(ctx context.Context, articleID string, limit int) client.Result {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	return w.c.GetWithParams(ctx, "similar/"+url.PathEscape(articleID),
		url.Values{"limit": {strconv.Itoa(limit)}})
}

// Organize asks the wiki to restructure its articles.
func (w *Client) Organize(ctx context.Context) client.Result {
	return w.c.Post(ctx, "organize", nil)
}
