package handlers

import (
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/noteparser/internal/httpserver/deps"
	"github.com/MrSnakeDoc/noteparser/internal/integration"
	"github.com/MrSnakeDoc/noteparser/internal/logger"
)

type documentRequest struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

type queryRequest struct {
	Query   string         `json:"query"`
	Filters map[string]any `json:"filters"`
}

// ProcessDocument runs the document workflow. Partial failures are reported
// in the body under the *_error keys, the status stays 200.
func ProcessDocument(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req documentRequest
		if err := decodeBody(w, r, d.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			writeError(w, http.StatusBadRequest, "content is required")
			return
		}

		d.Logger.Debug("processing document",
			logger.Int("content_length", len(req.Content)),
			logger.Int("metadata_keys", len(req.Metadata)))

		res := d.Workflows.ProcessDocument(r.Context(), integration.Document{
			Content:  req.Content,
			Metadata: req.Metadata,
		})
		writeJSON(w, http.StatusOK, res)
	}
}

func QueryKnowledge(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := decodeBody(w, r, d.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			writeError(w, http.StatusBadRequest, "query is required")
			return
		}

		writeJSON(w, http.StatusOK, d.Workflows.QueryKnowledge(r.Context(), req.Query, req.Filters))
	}
}

func OrganizeKnowledge(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Workflows.OrganizeKnowledge(r.Context()))
	}
}
