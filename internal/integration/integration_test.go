package integration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/noteparser/internal/client"
	"github.com/MrSnakeDoc/noteparser/internal/config"
	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/orchestrator"
	"github.com/MrSnakeDoc/noteparser/internal/service"
)

// scripted answers each action with a canned result or error and never
// touches the network.
type scripted struct {
	initErr error
	inits   *atomic.Int32
	answers map[string]func(req client.Result) (client.Result, error)

	mu   sync.Mutex
	seen []client.Result
}

func (s *scripted) Initialize(context.Context, *client.Client) error {
	if s.inits != nil {
		s.inits.Add(1)
	}
	return s.initErr
}

func (s *scripted) Cleanup(context.Context) error { return nil }

func (s *scripted) Process(_ context.Context, _ *client.Client, req client.Result) (client.Result, error) {
	s.mu.Lock()
	s.seen = append(s.seen, req)
	s.mu.Unlock()

	action, _ := req["action"].(string)
	if answer, ok := s.answers[action]; ok {
		return answer(req)
	}
	return client.Result{"action": action, "ok": true}, nil
}

func (s *scripted) requests() []client.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]client.Result(nil), s.seen...)
}

func serviceCfg(name string) config.ServiceConfig {
	return config.ServiceConfig{
		Name:                name,
		Enabled:             true,
		URL:                 "http://127.0.0.1:1",
		Timeout:             time.Second,
		RetryCount:          1,
		HealthCheckInterval: time.Hour,
	}
}

func newIntegration(t *testing.T, handlers map[string]*scripted) *Integration {
	t.Helper()
	cfgs := make([]config.ServiceConfig, 0, len(handlers))
	factories := make(map[string]HandlerFactory, len(handlers))
	for name, h := range handlers {
		cfgs = append(cfgs, serviceCfg(name))
		factories[name] = func(logger.Logger) service.Handler { return h }
	}
	i := New(cfgs, orchestrator.New(nil), WithHandlers(factories))
	t.Cleanup(func() { _ = i.Shutdown(context.Background()) })
	return i
}

func failing(msg string) func(client.Result) (client.Result, error) {
	return func(client.Result) (client.Result, error) { return nil, errors.New(msg) }
}

func TestProcessDocument_AllSucceed(t *testing.T) {
	wiki := &scripted{answers: map[string]func(client.Result) (client.Result, error){
		"create": func(req client.Result) (client.Result, error) {
			return client.Result{"article_id": "a-42", "title": req["title"]}, nil
		},
	}}
	rag := &scripted{}
	i := newIntegration(t, map[string]*scripted{config.RagFlow: rag, config.DeepWiki: wiki})

	res := i.ProcessDocument(context.Background(), Document{
		Content:  "gradient descent",
		Metadata: map[string]any{"title": "Optimization"},
	})

	for _, key := range []string{KeyRagIndexing, KeyInsights, KeyWikiArticle, KeyWikiLinks} {
		assert.Contains(t, res, key)
	}
	assert.NotContains(t, res, KeyRagError)
	assert.NotContains(t, res, KeyWikiError)

	wikiReqs := wiki.requests()
	require.Len(t, wikiReqs, 2)
	assert.Equal(t, "Optimization", wikiReqs[0]["title"])
	assert.Equal(t, "a-42", wikiReqs[1]["article_id"], "link uses the created article id")

	ragReqs := rag.requests()
	require.Len(t, ragReqs, 2)
	assert.Equal(t, "index", ragReqs[0]["action"])
	assert.Equal(t, "extract_insights", ragReqs[1]["action"])
}

func TestProcessDocument_FailingServiceIsRecorded(t *testing.T) {
	rag := &scripted{}
	wiki := &scripted{answers: map[string]func(client.Result) (client.Result, error){
		"create": failing("wiki exploded"),
		"link":   failing("nothing to link"),
	}}
	i := newIntegration(t, map[string]*scripted{config.RagFlow: rag, config.DeepWiki: wiki})

	res := i.ProcessDocument(context.Background(), Document{Content: "x"})

	assert.Contains(t, res, KeyRagIndexing)
	assert.Contains(t, res, KeyInsights)
	assert.NotContains(t, res, KeyWikiArticle)
	assert.NotContains(t, res, KeyWikiLinks)
	require.Contains(t, res, KeyWikiError)
	assert.Contains(t, res[KeyWikiError], "wiki exploded")
	assert.Contains(t, res[KeyWikiError], "; ")
	assert.Contains(t, res[KeyWikiError], "nothing to link")
	assert.Equal(t, "Untitled", wiki.requests()[0]["title"])
}

func TestProcessDocument_StepsAreIndependent(t *testing.T) {
	rag := &scripted{answers: map[string]func(client.Result) (client.Result, error){
		"index": failing("index down"),
	}}
	wiki := &scripted{}
	i := newIntegration(t, map[string]*scripted{config.RagFlow: rag, config.DeepWiki: wiki})

	res := i.ProcessDocument(context.Background(), Document{Content: "x"})

	assert.Equal(t, "stage 0 (ragflow): index down", res[KeyRagError])
	assert.Contains(t, res, KeyInsights, "insights still run after indexing failed")
	assert.Contains(t, res, KeyWikiArticle)
	assert.Contains(t, res, KeyWikiLinks)
}

func TestProcessDocument_StructuredErrorIsFailure(t *testing.T) {
	rag := &scripted{answers: map[string]func(client.Result) (client.Result, error){
		"extract_insights": func(client.Result) (client.Result, error) {
			return client.Result{"status": "error", "error": "ragflow: HTTP 503"}, nil
		},
	}}
	i := newIntegration(t, map[string]*scripted{config.RagFlow: rag})

	res := i.ProcessDocument(context.Background(), Document{Content: "x"})

	assert.Contains(t, res, KeyRagIndexing)
	assert.NotContains(t, res, KeyInsights)
	assert.Equal(t, "ragflow: HTTP 503", res[KeyRagError])
	// wiki is not registered: no wiki keys at all
	assert.NotContains(t, res, KeyWikiArticle)
	assert.NotContains(t, res, KeyWikiError)
}

func TestQueryKnowledge_MissingRagflowLeavesNoKeys(t *testing.T) {
	wiki := &scripted{}
	i := newIntegration(t, map[string]*scripted{config.DeepWiki: wiki})

	res := i.QueryKnowledge(context.Background(), "x", nil)

	assert.Contains(t, res, KeyWikiSearch)
	assert.Contains(t, res, KeyAIAssistant)
	assert.NotContains(t, res, KeyRagResponse)
	assert.NotContains(t, res, KeyRagError)
	assert.Len(t, res, 2)

	reqs := wiki.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "x", reqs[0]["query"])
	assert.Equal(t, "x", reqs[1]["question"])
}

func TestQueryKnowledge_FiltersReachRagflow(t *testing.T) {
	rag := &scripted{}
	i := newIntegration(t, map[string]*scripted{config.RagFlow: rag})

	res := i.QueryKnowledge(context.Background(), "q", map[string]any{"tag": "ml"})
	assert.Contains(t, res, KeyRagResponse)
	assert.Equal(t, map[string]any{"tag": "ml"}, rag.requests()[0]["filters"])
}

func TestOrganizeKnowledge(t *testing.T) {
	wiki := &scripted{}
	i := newIntegration(t, map[string]*scripted{config.DeepWiki: wiki})
	res := i.OrganizeKnowledge(context.Background())
	assert.Contains(t, res, KeyWikiOrganization)

	failingWiki := &scripted{answers: map[string]func(client.Result) (client.Result, error){
		"organize": failing("busy"),
	}}
	i = newIntegration(t, map[string]*scripted{config.DeepWiki: failingWiki})
	res = i.OrganizeKnowledge(context.Background())
	assert.Contains(t, res[KeyOrganizationError], "busy")
	assert.NotContains(t, res, KeyWikiError)
}

func TestInitialize_OnceUnderConcurrency(t *testing.T) {
	var inits atomic.Int32
	rag := &scripted{inits: &inits}
	i := newIntegration(t, map[string]*scripted{config.RagFlow: rag})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			i.QueryKnowledge(context.Background(), "q", nil)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, inits.Load())
	assert.True(t, i.Initialized())
	assert.Len(t, rag.requests(), 8)
}

func TestInitialize_SkipsFailingServices(t *testing.T) {
	rag := &scripted{initErr: errors.New("no index")}
	wiki := &scripted{}
	i := newIntegration(t, map[string]*scripted{config.RagFlow: rag, config.DeepWiki: wiki})

	require.NoError(t, i.Initialize(context.Background()))
	assert.Equal(t, []string{config.DeepWiki}, i.Orchestrator().Names())

	res := i.QueryKnowledge(context.Background(), "q", nil)
	assert.NotContains(t, res, KeyRagError, "a service that never started is absent, not failed")
}

func TestInitialize_SkipsDisabledAndUnknown(t *testing.T) {
	disabled := serviceCfg(config.RagFlow)
	disabled.Enabled = false
	unknown := serviceCfg(config.Dolphin)

	i := New([]config.ServiceConfig{disabled, unknown}, orchestrator.New(nil))
	require.NoError(t, i.Initialize(context.Background()))
	assert.Empty(t, i.Orchestrator().Names())
	assert.Empty(t, i.OrganizeKnowledge(context.Background()))
}

func TestShutdown_AllowsReinitialization(t *testing.T) {
	var inits atomic.Int32
	rag := &scripted{inits: &inits}
	i := newIntegration(t, map[string]*scripted{config.RagFlow: rag})

	i.QueryKnowledge(context.Background(), "q", nil)
	require.NoError(t, i.Shutdown(context.Background()))
	assert.False(t, i.Initialized())
	assert.Empty(t, i.Orchestrator().Names())

	res := i.QueryKnowledge(context.Background(), "q", nil)
	assert.Contains(t, res, KeyRagResponse)
	assert.EqualValues(t, 2, inits.Load())
}

func TestWorkflow_CanceledContext(t *testing.T) {
	i := newIntegration(t, map[string]*scripted{config.RagFlow: {}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := i.QueryKnowledge(ctx, "q", nil)
	_, failed := client.IsErrorResult(res)
	assert.True(t, failed)
}
