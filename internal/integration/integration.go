// Package integration composes the managed services into the three knowledge
// workflows: processing a document, querying and reorganizing.
//
// Every workflow step is isolated. A failing step is recorded under an error
// key and the remaining steps still run; a service that is not registered
// contributes nothing. Callers always get back whatever succeeded.
package integration

import (
	"context"
	"errors"
	"sync"

	"github.com/MrSnakeDoc/noteparser/internal/client"
	"github.com/MrSnakeDoc/noteparser/internal/config"
	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/metrics"
	"github.com/MrSnakeDoc/noteparser/internal/orchestrator"
	"github.com/MrSnakeDoc/noteparser/internal/service"
	"github.com/MrSnakeDoc/noteparser/internal/services/deepwiki"
	"github.com/MrSnakeDoc/noteparser/internal/services/ragflow"
)

// Result keys.
const (
	KeyRagIndexing       = "rag_indexing"
	KeyInsights          = "insights"
	KeyWikiArticle       = "wiki_article"
	KeyWikiLinks         = "wiki_links"
	KeyRagResponse       = "rag_response"
	KeyWikiSearch        = "wiki_search"
	KeyAIAssistant       = "ai_assistant"
	KeyWikiOrganization  = "wiki_organization"
	KeyRagError          = "rag_error"
	KeyWikiError         = "wiki_error"
	KeyOrganizationError = "organization_error"
)

const errorSeparator = "; "

// HandlerFactory builds the handler of one service kind.
type HandlerFactory func(log logger.Logger) service.Handler

// DefaultHandlers maps service names to their handlers. Configured services
// without a handler are skipped at initialization.
func DefaultHandlers() map[string]HandlerFactory {
	return map[string]HandlerFactory{
		config.RagFlow:  func(log logger.Logger) service.Handler { return ragflow.NewHandler(log) },
		config.DeepWiki: func(log logger.Logger) service.Handler { return deepwiki.NewHandler(log) },
	}
}

// Document is the parsed note handed to ProcessDocument.
type Document struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Option func(*Integration)

func WithLogger(log logger.Logger) Option {
	return func(i *Integration) {
		if log != nil {
			i.log = log
		}
	}
}

// WithHandlers replaces the handler table.
func WithHandlers(h map[string]HandlerFactory) Option {
	return func(i *Integration) { i.handlers = h }
}

// WithServiceOptions adds options to every managed service built by Initialize.
func WithServiceOptions(opts ...service.Option) Option {
	return func(i *Integration) { i.serviceOpts = append(i.serviceOpts, opts...) }
}

type Integration struct {
	services    []config.ServiceConfig
	handlers    map[string]HandlerFactory
	orch        *orchestrator.Orchestrator
	log         logger.Logger
	serviceOpts []service.Option

	mu          sync.Mutex
	initialized bool
}

// New prepares the façade. Services are only registered on first use.
func New(services []config.ServiceConfig, orch *orchestrator.Orchestrator, opts ...Option) *Integration {
	i := &Integration{
		services: services,
		handlers: DefaultHandlers(),
		orch:     orch,
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.log = i.log.Named("integration")
	return i
}

// Orchestrator returns the orchestrator the façade runs on.
func (i *Integration) Orchestrator() *orchestrator.Orchestrator { return i.orch }

func (i *Integration) Initialized() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.initialized
}

// Initialize registers every enabled service that has a handler. It runs once;
// later calls return immediately. A service that fails to start is logged and
// left out.
func (i *Integration) Initialize(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.initialized {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	i.log.Info("initializing services")
	for _, cfg := range i.services {
		if !cfg.Enabled {
			continue
		}
		factory, ok := i.handlers[cfg.Name]
		if !ok {
			i.log.Warn("no handler for service, skipping", logger.String("service", cfg.Name))
			continue
		}

		opts := append([]service.Option{service.WithLogger(i.log)}, i.serviceOpts...)
		svc := service.New(cfg, factory(i.log), opts...)
		if err := i.orch.Register(ctx, svc); err != nil {
			i.log.Error("service registration failed, skipping",
				logger.String("service", cfg.Name), logger.Error(err))
			continue
		}
	}

	i.initialized = true
	i.log.Info("services initialized", logger.Strings("registered", i.orch.Names()))
	return nil
}

// ProcessDocument indexes the document and extracts insights with ragflow,
// then creates a wiki article and links it. The link step uses the article id
// returned by the create step.
func (i *Integration) ProcessDocument(ctx context.Context, doc Document) client.Result {
	if err := i.Initialize(ctx); err != nil {
		return client.ErrorResult(err)
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	title, _ := metadata["title"].(string)
	if title == "" {
		title = deepwiki.DefaultTitle
	}

	w := i.workflow("process_document")
	w.step(ctx, config.RagFlow, KeyRagIndexing, KeyRagError, client.Result{
		"action":   ragflow.ActionIndex,
		"content":  doc.Content,
		"metadata": metadata,
	})
	w.step(ctx, config.RagFlow, KeyInsights, KeyRagError, client.Result{
		"action":       ragflow.ActionExtractInsights,
		"content":      doc.Content,
		"insight_type": ragflow.DefaultInsightType,
	})

	article, _ := w.step(ctx, config.DeepWiki, KeyWikiArticle, KeyWikiError, client.Result{
		"action":   deepwiki.ActionCreate,
		"title":    title,
		"content":  doc.Content,
		"metadata": metadata,
	})
	// attempted even when create failed; the missing id is then recorded
	w.step(ctx, config.DeepWiki, KeyWikiLinks, KeyWikiError, client.Result{
		"action":     deepwiki.ActionLink,
		"article_id": article.Str("article_id"),
	})
	return w.results
}

// QueryKnowledge asks ragflow and searches the wiki, then asks the wiki
// assistant. filters only apply to the ragflow query.
func (i *Integration) QueryKnowledge(ctx context.Context, query string, filters map[string]any) client.Result {
	if err := i.Initialize(ctx); err != nil {
		return client.ErrorResult(err)
	}
	if filters == nil {
		filters = map[string]any{}
	}

	w := i.workflow("query_knowledge")
	w.step(ctx, config.RagFlow, KeyRagResponse, KeyRagError, client.Result{
		"action":  ragflow.ActionQuery,
		"query":   query,
		"filters": filters,
	})
	w.step(ctx, config.DeepWiki, KeyWikiSearch, KeyWikiError, client.Result{
		"action":      deepwiki.ActionSearch,
		"query":       query,
		"search_type": "content",
	})
	w.step(ctx, config.DeepWiki, KeyAIAssistant, KeyWikiError, client.Result{
		"action":   deepwiki.ActionAsk,
		"question": query,
	})
	return w.results
}

// OrganizeKnowledge triggers a reorganization of the wiki.
func (i *Integration) OrganizeKnowledge(ctx context.Context) client.Result {
	if err := i.Initialize(ctx); err != nil {
		return client.ErrorResult(err)
	}

	w := i.workflow("organize_knowledge")
	w.step(ctx, config.DeepWiki, KeyWikiOrganization, KeyOrganizationError, client.Result{
		"action": deepwiki.ActionOrganize,
	})
	return w.results
}

// Shutdown stops every registered service. The next workflow call
// initializes fresh services.
func (i *Integration) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	err := i.orch.Shutdown(ctx)
	i.initialized = false
	i.log.Info("services shut down")
	return err
}

type workflow struct {
	name    string
	orch    *orchestrator.Orchestrator
	log     logger.Logger
	results client.Result
}

func (i *Integration) workflow(name string) *workflow {
	return &workflow{
		name:    name,
		orch:    i.orch,
		log:     i.log.With(logger.String("workflow", name)),
		results: client.Result{},
	}
}

// step runs req through the single-stage pipeline [svc]. On success the output
// is stored under okKey. On failure the message is appended to errKey. An
// unregistered service leaves no trace.
func (w *workflow) step(ctx context.Context, svc, okKey, errKey string, req client.Result) (client.Result, bool) {
	out, err := w.orch.ProcessPipeline(ctx, req, []string{svc})
	if errors.Is(err, orchestrator.ErrServiceNotRegistered) {
		return nil, false
	}
	var errResult *orchestrator.ErrorResultError
	if errors.As(err, &errResult) {
		err = errors.New(errResult.Message)
	}
	if err != nil {
		metrics.WorkflowStepErrors.WithLabelValues(w.name, svc).Inc()
		w.log.Error("workflow step failed",
			logger.String("service", svc), logger.String("step", okKey), logger.Error(err))
		if prev, ok := w.results[errKey].(string); ok && prev != "" {
			w.results[errKey] = prev + errorSeparator + err.Error()
		} else {
			w.results[errKey] = err.Error()
		}
		return nil, false
	}

	w.results[okKey] = out
	return out, true
}
