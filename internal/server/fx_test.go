package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsearch-stager/internal/config"
	"github.com/JakeFAU/docsearch-stager/internal/index"
	memoryindex "github.com/JakeFAU/docsearch-stager/internal/index/memory"
	"github.com/JakeFAU/docsearch-stager/internal/indexdef"
	memorypublisher "github.com/JakeFAU/docsearch-stager/internal/publisher/memory"
	"github.com/JakeFAU/docsearch-stager/internal/record"
	"github.com/JakeFAU/docsearch-stager/internal/stager"
)

const pagesNDJSON = `{"url":"http://localhost:3000/a","records":[
  {"objectID":"a1","url":"http://localhost:3000/a#x","url_without_anchor":"http://localhost:3000/a","weight":{"level":100}},
  {"objectID":"a2","url":"http://localhost:3000/a#y","weight":{"level":90}},
  {"objectID":"a3","url":"http://localhost:3000/a#z","weight":{"level":80}}
],"from_sitemap":true}
{"url":"http://localhost:3000/b","records":[{"objectID":"b1","url":"http://localhost:3000/b","weight":{"level":100}}]}
`

func testConfig() *config.Config {
	return &config.Config{
		Index: config.IndexConfig{Name: "docs", TmpName: "docs_tmp", Backend: config.BackendMemory, ChunkSize: 2},
		Records: config.RecordsConfig{
			PagerankRules: `[{"field":"url","pattern":"/b","page_rank":5}]`,
			ShowRecords:   "true",
		},
		Host: config.HostConfig{
			Override:  "docs.example.com",
			LocalHost: "localhost:3000",
			LocalURL:  "http://localhost:3000",
		},
		Archive: config.ArchiveConfig{Enabled: true, Backend: config.BackendMemory, Prefix: "archive"},
		DB:      config.DBConfig{Backend: config.BackendMemory},
	}
}

func writePages(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pages.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func build(t *testing.T, cfg *config.Config, echo *bytes.Buffer) *App {
	t.Helper()
	app, err := Build(context.Background(), cfg, Options{Logger: zap.NewNop(), Echo: echo})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func TestRunStagesAndPromotes(t *testing.T) {
	t.Parallel()

	var echo bytes.Buffer
	app := build(t, testConfig(), &echo)
	svc, ok := app.service.(*memoryindex.Service)
	require.True(t, ok)

	def := &indexdef.Definition{
		Settings:   index.Settings{"hitsPerPage": 20},
		QueryRules: []index.Rule{{"objectID": "pin"}},
		Synonyms:   map[string]index.Synonym{"js": {"type": "synonym", "synonyms": []string{"js", "javascript"}}},
	}
	run, err := app.Run(context.Background(), RunInput{Definition: def, Pages: []string{writePages(t, pagesNDJSON)}})
	require.NoError(t, err)

	assert.Equal(t, stager.RunStatePromoted, run.State)
	assert.Equal(t, 2, run.Counters.Pages)
	assert.Equal(t, 4, run.Counters.RecordsAccepted)
	assert.Equal(t, 3, run.Counters.Batches)
	assert.Equal(t, 1, run.Counters.Synonyms)

	live := svc.Snapshot("docs")
	require.True(t, live.Exists)
	assert.Equal(t, []string{"a1", "a2", "a3", "b1"}, live.ObjectIDs())
	assert.Contains(t, string(live.Objects["b1"]), "https://docs.example.com/b")
	assert.Contains(t, string(live.Objects["b1"]), `"page_rank":5`)
	assert.Len(t, live.Synonyms, 1)
	assert.False(t, svc.Snapshot("docs_tmp").Exists)

	stored, err := app.ledger.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, stager.RunStatePromoted, stored.State)

	require.NotNil(t, app.archive)
	assert.Len(t, app.archive.Objects(), 3)

	pub, ok := app.publisher.(*memorypublisher.Publisher)
	require.True(t, ok)
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, localTopic, msgs[0].Topic)

	assert.Equal(t, 4, strings.Count(echo.String(), `"weight"`), "every staged record is echoed")
}

func TestRunFailureLeavesLiveIndexUntouched(t *testing.T) {
	t.Parallel()

	app := build(t, testConfig(), &bytes.Buffer{})
	svc := app.service.(*memoryindex.Service)
	require.NoError(t, svc.Seed("docs", index.Settings{"hitsPerPage": 5}, nil,
		&record.Record{ObjectID: "old"}))
	before := svc.Snapshot("docs")

	pages := writePages(t, pagesNDJSON+`{"url":`)
	run, err := app.Run(context.Background(), RunInput{Pages: []string{pages}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage pages")

	assert.Equal(t, stager.RunStateFailed, run.State)
	assert.Equal(t, 2, run.Counters.Pages)
	assert.Equal(t, before, svc.Snapshot("docs"))
	assert.Empty(t, svc.CallsFor(memoryindex.OpMoveIndex))

	stored, err := app.ledger.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, stager.RunStateFailed, stored.State)
	assert.NotEmpty(t, stored.ErrorText)
}

func TestRunCancelledBeforeCommit(t *testing.T) {
	t.Parallel()

	app := build(t, testConfig(), &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := app.Run(ctx, RunInput{Pages: []string{writePages(t, pagesNDJSON)}})
	require.Error(t, err)
	assert.Equal(t, stager.RunStateFailed, run.State)
	assert.False(t, app.service.(*memoryindex.Service).Snapshot("docs").Exists)
}

func TestHandlerReportsCurrentRun(t *testing.T) {
	t.Parallel()

	app := build(t, testConfig(), &bytes.Buffer{})

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/run", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	run, err := app.Run(context.Background(), RunInput{Pages: []string{writePages(t, pagesNDJSON)}})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/run", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), run.ID)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+run.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"promoted"`)
}

func TestBuildRejectsBadBackends(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Index.Backend = config.BackendAlgolia
	_, err := Build(context.Background(), cfg, Options{Logger: zap.NewNop()})
	require.Error(t, err)

	cfg = testConfig()
	cfg.DB = config.DBConfig{Backend: config.BackendSQLite, Path: filepath.Join(t.TempDir(), "runs.db")}
	app, err := Build(context.Background(), cfg, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, app.Close(context.Background()))
}
