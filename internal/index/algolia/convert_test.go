package algolia

import (
	"testing"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsearch-stager/internal/index"
)

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(Config{APIKey: "key"}, zap.NewNop())
	require.Error(t, err)
	_, err = New(Config{AppID: "app"}, zap.NewNop())
	require.Error(t, err)

	svc, err := New(Config{AppID: "app", APIKey: "key"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "docs_tmp", svc.InitIndex("docs_tmp").Name())
}

func TestToSynonym(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   index.Synonym
		want any
	}{
		{
			name: "regular by default",
			in:   index.Synonym{"objectID": "s1", "synonyms": []any{"js", "javascript"}},
			want: search.RegularSynonym{},
		},
		{
			name: "one way",
			in:   index.Synonym{"objectID": "s2", "type": SynonymOneWay, "input": "k8s", "synonyms": []string{"kubernetes"}},
			want: search.OneWaySynonym{},
		},
		{
			name: "alt correction",
			in:   index.Synonym{"objectID": "s3", "type": SynonymAltCorrection1, "word": "color", "corrections": []any{"colour"}},
			want: search.AltCorrection1{},
		},
		{
			name: "placeholder",
			in:   index.Synonym{"objectID": "s4", "type": SynonymPlaceholder, "placeholder": "<num>", "replacements": []any{"1", "2"}},
			want: search.Placeholder{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := toSynonym(tt.in)
			require.NoError(t, err)
			assert.IsType(t, tt.want, got)
			assert.Equal(t, tt.in.ObjectID(), got.ObjectID())
		})
	}
}

func TestToSynonymRejectsMalformed(t *testing.T) {
	t.Parallel()

	bad := []index.Synonym{
		{"synonyms": []any{"a"}},
		{"objectID": "x", "synonyms": "a,b"},
		{"objectID": "x", "synonyms": []any{"a", 1}},
		{"objectID": "x", "type": SynonymOneWay, "synonyms": []any{"a"}},
		{"objectID": "x", "type": "thesaurus"},
	}
	for _, syn := range bad {
		_, err := toSynonym(syn)
		assert.Error(t, err, "%v", syn)
	}
}

func TestToRulesAndSettings(t *testing.T) {
	t.Parallel()

	rules, err := toRules([]index.Rule{{
		"objectID":    "promote-intro",
		"conditions":  []any{map[string]any{"anchoring": "is", "pattern": "intro"}},
		"consequence": map[string]any{"promote": []any{map[string]any{"objectID": "intro", "position": 0}}},
	}})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "promote-intro", rules[0].ObjectID)

	settings, err := toSettings(index.Settings{"hitsPerPage": 20})
	require.NoError(t, err)
	assert.NotNil(t, settings.HitsPerPage)

	empty, err := toSettings(nil)
	require.NoError(t, err)
	assert.Nil(t, empty.HitsPerPage)
}
