package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type remoteLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *remoteLog) has(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.paths {
		if p == path {
			return true
		}
	}
	return false
}

func fakeRemote(t *testing.T) (*httptest.Server, *remoteLog) {
	t.Helper()
	rl := &remoteLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.mu.Lock()
		rl.paths = append(rl.paths, r.Method+" "+r.URL.Path)
		rl.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","article_id":"a-1","similar":[]}`))
	}))
	t.Cleanup(srv.Close)
	return srv, rl
}

func setEnv(t *testing.T, ragflowURL, deepwikiURL string) {
	t.Setenv("RAGFLOW_URL", ragflowURL)
	t.Setenv("DEEPWIKI_URL", deepwikiURL)
	t.Setenv("NOTEPARSER_PRETTY_LOG", "false")
	t.Setenv("NOTEPARSER_REDIS_ADDR", "")
	t.Setenv("NOTEPARSER_SERVICES_FILE", "")
}

func run(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	app := newCLI()
	app.Writer = &out
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"noteparser", "--log-level", "error"}, args...))

	// usage errors print help text, not a JSON document
	var res map[string]any
	if body := bytes.TrimSpace(out.Bytes()); bytes.HasPrefix(body, []byte("{")) {
		require.NoError(t, json.Unmarshal(body, &res))
	}
	return res, err
}

func TestHealthCommand(t *testing.T) {
	srv, rl := fakeRemote(t)
	setEnv(t, srv.URL, srv.URL)

	res, err := run(t, "health")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ragflow": true, "deepwiki": true}, res)
	assert.True(t, rl.has("GET /health"))
}

func TestHealthCommand_Unhealthy(t *testing.T) {
	srv, _ := fakeRemote(t)
	setEnv(t, srv.URL, "http://127.0.0.1:1")

	res, err := run(t, "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deepwiki")
	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.ExitCode())
	assert.Equal(t, false, res["deepwiki"])
}

func TestProcessCommand_MarkdownFile(t *testing.T) {
	srv, rl := fakeRemote(t)
	setEnv(t, srv.URL, srv.URL)

	path := filepath.Join(t.TempDir(), "go-notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Go\nchannels"), 0o600))

	res, err := run(t, "process", "--file", path)
	require.NoError(t, err)
	for _, key := range []string{"rag_indexing", "insights", "wiki_article", "wiki_links"} {
		assert.Contains(t, res, key)
	}
	assert.True(t, rl.has("POST /index"))
	assert.True(t, rl.has("POST /article"))
}

func TestProcessCommand_RequiresFile(t *testing.T) {
	srv, _ := fakeRemote(t)
	setEnv(t, srv.URL, srv.URL)

	res, err := run(t, "process")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Required flag "file"`)
	assert.Nil(t, res)
}

func TestQueryCommand_RequiresQ(t *testing.T) {
	srv, rl := fakeRemote(t)
	setEnv(t, srv.URL, srv.URL)

	res, err := run(t, "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Required flag "q"`)
	assert.Nil(t, res)
	assert.False(t, rl.has("POST /query"))
}

func TestQueryCommand(t *testing.T) {
	srv, rl := fakeRemote(t)
	setEnv(t, srv.URL, srv.URL)

	res, err := run(t, "query", "--q", "what is a channel?", "--filter", "tag=go")
	require.NoError(t, err)
	for _, key := range []string{"rag_response", "wiki_search", "ai_assistant"} {
		assert.Contains(t, res, key)
	}
	assert.True(t, rl.has("POST /query"))
	assert.True(t, rl.has("POST /ask"))
}

func TestQueryCommand_BadFilter(t *testing.T) {
	srv, _ := fakeRemote(t)
	setEnv(t, srv.URL, srv.URL)

	_, err := run(t, "query", "--q", "x", "--filter", "nokey")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key=value")
}

func TestOrganizeCommand(t *testing.T) {
	srv, rl := fakeRemote(t)
	setEnv(t, srv.URL, srv.URL)

	res, err := run(t, "organize")
	require.NoError(t, err)
	assert.Contains(t, res, "wiki_organization")
	assert.True(t, rl.has("POST /organize"))
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"content":"body","metadata":{"title":"T"}}`), 0o600))
	doc, err := readDocument(jsonPath, nil)
	require.NoError(t, err)
	assert.Equal(t, "body", doc.Content)
	assert.Equal(t, "T", doc.Metadata["title"])

	emptyJSON := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(emptyJSON, []byte(`{"metadata":{}}`), 0o600))
	_, err = readDocument(emptyJSON, nil)
	assert.Error(t, err)

	doc, err = readDocument("-", strings.NewReader("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", doc.Content)
	assert.Nil(t, doc.Metadata)

	_, err = readDocument(filepath.Join(dir, "missing.md"), nil)
	assert.Error(t, err)
}

func TestParseFilters(t *testing.T) {
	f, err := parseFilters([]string{"tag = go", "lang=en=US"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tag": "go", "lang": "en=US"}, f)

	f, err = parseFilters(nil)
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = parseFilters([]string{"=x"})
	assert.Error(t, err)
}
