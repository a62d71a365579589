// Package ragflow talks to the retrieval-augmented-generation service: document
// indexing, knowledge queries and insight extraction.
package ragflow

import (
	"context"

	"github.com/MrSnakeDoc/noteparser/internal/client"
)

const (
	DefaultK           = 5
	DefaultInsightType = "all"
)

// Client is the typed API of the ragflow service. Every method is a boundary
// call: failures come back as the structured error result.
type Client struct {
	c *client.Client
}

func NewClient(c *client.Client) *Client {
	return &Client{c: c}
}

// Raw exposes the underlying resilient client.
func (r *Client) Raw() *client.Client { return r.c }

func (r *Client) IndexDocument(ctx context.Context, content string, metadata map[string]any) client.Result {
	return r.c.Post(ctx, "index", map[string]any{
		"content":  content,
		"metadata": nonNil(metadata),
	})
}

// Query asks for the k best answers. k <= 0 uses DefaultK.
func (r *Client) Query(ctx context.Context, query string, k int, filters map[string]any) client.Result {
	if k <= 0 {
		k = DefaultK
	}
	return r.c.Post(ctx, "query", map[string]any{
		"query":   query,
		"k":       k,
		"filters": nonNil(filters),
	})
}

func (r *Client) ExtractInsights(ctx context.Context, content, insightType string) client.Result {
	if insightType == "" {
		insightType = DefaultInsightType
	}
	return r.c.Post(ctx, "insights", map[string]any{
		"content":      content,
		"insight_type": insightType,
	})
}

func (r *Client) GetStats(ctx context.Context) client.Result {
	return r.c.Get(ctx, "stats")
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
