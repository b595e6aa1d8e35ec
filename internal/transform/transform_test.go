package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsearch-stager/internal/record"
	"github.com/JakeFAU/docsearch-stager/internal/rules"
)

func mustRecord(t *testing.T, raw string) *record.Record {
	t.Helper()
	var rec record.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	return &rec
}

func pageRank(t *testing.T, rec *record.Record) float64 {
	t.Helper()
	require.NotNil(t, rec.Weight)
	require.NotNil(t, rec.Weight.PageRank)
	return *rec.Weight.PageRank
}

func TestPostProcessDerivesPath(t *testing.T) {
	t.Parallel()

	rec := mustRecord(t, `{"objectID":"1","url":"https://example.com/docs/page?x=1#top",
		"url_without_anchor":"https://example.com/docs/page?x=1","weight":{}}`)

	tr := New(rules.Rules{})
	_, out, err := tr.PostProcess("https://example.com/docs/page", []*record.Record{rec})
	require.NoError(t, err)

	require.NotNil(t, out[0].Path)
	assert.Equal(t, "/docs/page", *out[0].Path)
}

func TestPostProcessWithoutAnchorLeavesPathUnset(t *testing.T) {
	t.Parallel()

	rec := mustRecord(t, `{"objectID":"1","url":"https://example.com/a","weight":{}}`)
	_, _, err := New(rules.Rules{}).PostProcess("https://example.com/a", []*record.Record{rec})
	require.NoError(t, err)
	assert.Nil(t, rec.Path)
}

func TestPostProcessRestoresHost(t *testing.T) {
	t.Parallel()

	r := rules.Rules{HostRewrite: rules.NewHostRewrite("docs.example.com", "localhost:3000", "http://localhost:3000")}
	rec := mustRecord(t, `{"objectID":"1","url":"http://localhost:3000/a",
		"url_without_anchor":"http://localhost:3000/a","url_without_variables":"http://localhost:3000/a","weight":{}}`)
	bare := mustRecord(t, `{"objectID":"2","url":"http://localhost:3000/b","weight":{}}`)

	pageURL, out, err := New(r).PostProcess("http://localhost:3000/a", []*record.Record{rec, bare})
	require.NoError(t, err)

	assert.Equal(t, "https://docs.example.com/a", pageURL)
	assert.Equal(t, "https://docs.example.com/a", out[0].URL)
	assert.Equal(t, "https://docs.example.com/a", *out[0].URLWithoutAnchor)
	assert.Equal(t, "https://docs.example.com/a", *out[0].URLWithoutVariables)
	assert.Equal(t, "/a", *out[0].Path)

	assert.Equal(t, "https://docs.example.com/b", out[1].URL)
	assert.Nil(t, out[1].URLWithoutAnchor, "absent fields must stay absent")
	assert.Nil(t, out[1].URLWithoutVariables)
}

func TestPostProcessPagerankIsAdditive(t *testing.T) {
	t.Parallel()

	resolved := rules.Resolve(rules.Raw{PagerankRules: `[
		{"field":"url","pattern":"/docs/","page_rank":3},
		{"field":"url","pattern":"guide","page_rank":4.5},
		{"field":"url","pattern":"/blog/","page_rank":100},
		{"field":"lang","pattern":"^en$","page_rank":1}
	]`}, zap.NewNop())
	require.Len(t, resolved.PagerankRules, 4)

	rec := mustRecord(t, `{"objectID":"1","url":"https://example.com/docs/guide","lang":"en","weight":{"page_rank":2,"level":10}}`)
	noRank := mustRecord(t, `{"objectID":"2","url":"https://example.com/docs/x","weight":{"level":10}}`)
	untouched := mustRecord(t, `{"objectID":"3","url":"https://example.com/about","weight":{"level":10}}`)

	_, _, err := New(resolved).PostProcess("https://example.com/", []*record.Record{rec, noRank, untouched})
	require.NoError(t, err)

	assert.InDelta(t, 2+3+4.5+1, pageRank(t, rec), 1e-9)
	assert.InDelta(t, 3.0, pageRank(t, noRank), 1e-9, "missing page_rank starts at zero")
	assert.Nil(t, untouched.Weight.PageRank, "records no rule matches keep their weight as-is")
}

func TestPostProcessPagerankOrderIndependent(t *testing.T) {
	t.Parallel()

	forward := rules.Resolve(rules.Raw{PagerankRules: `[
		{"field":"url","pattern":"a","page_rank":1.25},{"field":"url","pattern":"b","page_rank":7}]`}, nil)
	reverse := rules.Resolve(rules.Raw{PagerankRules: `[
		{"field":"url","pattern":"b","page_rank":7},{"field":"url","pattern":"a","page_rank":1.25}]`}, nil)

	one := mustRecord(t, `{"objectID":"1","url":"ab","weight":{"page_rank":0}}`)
	two := mustRecord(t, `{"objectID":"1","url":"ab","weight":{"page_rank":0}}`)

	_, _, err := New(forward).PostProcess("", []*record.Record{one})
	require.NoError(t, err)
	_, _, err = New(reverse).PostProcess("", []*record.Record{two})
	require.NoError(t, err)

	assert.InDelta(t, pageRank(t, one), pageRank(t, two), 1e-9)
}

func TestPostProcessNonStringFieldNeverMatches(t *testing.T) {
	t.Parallel()

	resolved := rules.Resolve(rules.Raw{PagerankRules: `[{"field":"level","pattern":".","page_rank":9}]`}, nil)
	rec := mustRecord(t, `{"objectID":"1","level":3,"weight":{"page_rank":1}}`)

	_, _, err := New(resolved).PostProcess("", []*record.Record{rec})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pageRank(t, rec), 1e-9)
}

func TestPostProcessMissingWeightIsFatal(t *testing.T) {
	t.Parallel()

	resolved := rules.Resolve(rules.Raw{PagerankRules: `[{"field":"url","pattern":"docs","page_rank":1}]`}, nil)
	rec := mustRecord(t, `{"objectID":"no-weight","url":"https://example.com/docs"}`)

	_, _, err := New(resolved).PostProcess("https://example.com/docs", []*record.Record{rec})
	require.ErrorIs(t, err, ErrMissingWeight)
	assert.Contains(t, err.Error(), "no-weight")
}

func TestPostProcessMissingWeightWithoutMatchIsFine(t *testing.T) {
	t.Parallel()

	resolved := rules.Resolve(rules.Raw{PagerankRules: `[{"field":"url","pattern":"docs","page_rank":1}]`}, nil)
	rec := mustRecord(t, `{"objectID":"1","url":"https://example.com/blog"}`)

	_, _, err := New(resolved).PostProcess("", []*record.Record{rec})
	require.NoError(t, err)
}

func TestPostProcessRemovesMatchingKeysOnly(t *testing.T) {
	t.Parallel()

	resolved := rules.Resolve(rules.Raw{AttributesToRemove: `["^_", "radio$", "^url_without_variables$"]`}, nil)
	rec := mustRecord(t, `{"objectID":"1","url":"https://example.com/a","url_without_variables":"https://example.com/a",
		"_tags":["x"],"_internal":1,"hierarchy_radio":{},"hierarchy":{"lvl0":"Docs"},"content":"_not a key_","weight":{}}`)

	_, _, err := New(resolved).PostProcess("", []*record.Record{rec})
	require.NoError(t, err)

	assert.Equal(t, []string{"content", "hierarchy", "objectID", "url", "weight"}, rec.Keys())
	assert.Equal(t, "_not a key_", rec.Attributes["content"], "values are never matched")
}

func TestRemoveAttributesIsIdempotent(t *testing.T) {
	t.Parallel()

	patterns := rules.Resolve(rules.Raw{AttributesToRemove: `["^_", "lvl"]`}, nil).AttributesToRemove
	once := mustRecord(t, `{"objectID":"1","_a":1,"lvl0":"x","keep":true}`)
	twice := mustRecord(t, `{"objectID":"1","_a":1,"lvl0":"x","keep":true}`)

	RemoveAttributes(once, patterns)
	RemoveAttributes(twice, patterns)
	RemoveAttributes(twice, patterns)

	a, err := record.Marshal(once)
	require.NoError(t, err)
	b, err := record.Marshal(twice)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestPostProcessEmptyRulesIsIdentityExceptPath(t *testing.T) {
	t.Parallel()

	raw := `{"objectID":"1","url":"http://localhost:3000/a?b=c","url_without_anchor":"http://localhost:3000/a?b=c",` +
		`"weight":{"page_rank":0,"level":90},"_tags":["t"],"content":"x"}`
	rec := mustRecord(t, raw)

	tr := New(rules.Resolve(rules.Raw{}, nil))
	pageURL, out, err := tr.PostProcess("http://localhost:3000/a", []*record.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/a", pageURL)

	got, err := record.Marshal(out[0])
	require.NoError(t, err)

	var want map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &want))
	want["path"] = "/a"
	wantJSON, err := json.Marshal(want)
	require.NoError(t, err)
	assert.JSONEq(t, string(wantJSON), string(got))
}

func TestPostProcessPreservesOrder(t *testing.T) {
	t.Parallel()

	recs := []*record.Record{
		mustRecord(t, `{"objectID":"c"}`),
		mustRecord(t, `{"objectID":"a"}`),
		mustRecord(t, `{"objectID":"b"}`),
	}
	_, out, err := New(rules.Rules{}).PostProcess("", recs)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "c", out[0].ObjectID)
	assert.Equal(t, "a", out[1].ObjectID)
	assert.Equal(t, "b", out[2].ObjectID)
}

func TestURLPath(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://example.com/docs/page?x=1":     "/docs/page",
		"https://example.com":                   "",
		"https://example.com/a%20b/#frag":       "/a%20b/",
		"/relative/only?q":                      "/relative/only",
		"http://bad host/%zz/p?q=1":             "/%zz/p",
		"https://example.com/docs/café":         "/docs/café",
		"https://example.com/docs/a b":          "/docs/a b",
		"https://example.com/docs/page;v=1?x=1": "/docs/page",
		"https://example.com/a;x/b":             "/a;x/b",
		"//example.com/p?q":                     "/p",
		"/a/http://b":                           "/a/http://b",
	}
	for in, want := range tests {
		assert.Equal(t, want, urlPath(in), in)
	}
}

func TestPagerankMatchesEmptyURL(t *testing.T) {
	t.Parallel()

	resolved := rules.Resolve(rules.Raw{PagerankRules: `[{"field":"url","pattern":"^$","page_rank":3}]`}, nil)
	rec := mustRecord(t, `{"objectID":"1","url":"","weight":{}}`)

	_, _, err := New(resolved).PostProcess("https://example.com/", []*record.Record{rec})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, pageRank(t, rec), 1e-9)

	out, err := record.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"url":""`)
}
