package algolia

import (
	"encoding/json"
	"fmt"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/search"

	"github.com/JakeFAU/docsearch-stager/internal/index"
)

// Synonym type names as they appear in index definitions.
const (
	SynonymRegular        = "synonym"
	SynonymOneWay         = "oneWaySynonym"
	SynonymAltCorrection1 = "altCorrection1"
	SynonymAltCorrection2 = "altCorrection2"
	SynonymPlaceholder    = "placeholder"
)

func toSettings(settings index.Settings) (search.Settings, error) {
	var out search.Settings
	if len(settings) == 0 {
		return out, nil
	}
	if err := remarshal(settings, &out); err != nil {
		return search.Settings{}, fmt.Errorf("convert settings: %w", err)
	}
	return out, nil
}

func toRules(rules []index.Rule) ([]search.Rule, error) {
	out := make([]search.Rule, 0, len(rules))
	for n, r := range rules {
		var rule search.Rule
		if err := remarshal(r, &rule); err != nil {
			return nil, fmt.Errorf("convert rule %d: %w", n, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func toSynonyms(synonyms []index.Synonym) ([]search.Synonym, error) {
	out := make([]search.Synonym, 0, len(synonyms))
	for n, syn := range synonyms {
		converted, err := toSynonym(syn)
		if err != nil {
			return nil, fmt.Errorf("convert synonym %d: %w", n, err)
		}
		out = append(out, converted)
	}
	return out, nil
}

func toSynonym(syn index.Synonym) (search.Synonym, error) {
	id := syn.ObjectID()
	if id == "" {
		return nil, fmt.Errorf("objectID is required")
	}
	kind, _ := syn["type"].(string)
	if kind == "" {
		kind = SynonymRegular
	}

	switch kind {
	case SynonymRegular:
		words, err := stringList(syn, "synonyms")
		if err != nil {
			return nil, err
		}
		return search.NewRegularSynonym(id, words...), nil
	case SynonymOneWay:
		input, err := stringField(syn, "input")
		if err != nil {
			return nil, err
		}
		words, err := stringList(syn, "synonyms")
		if err != nil {
			return nil, err
		}
		return search.NewOneWaySynonym(id, input, words...), nil
	case SynonymAltCorrection1, SynonymAltCorrection2:
		word, err := stringField(syn, "word")
		if err != nil {
			return nil, err
		}
		corrections, err := stringList(syn, "corrections")
		if err != nil {
			return nil, err
		}
		if kind == SynonymAltCorrection1 {
			return search.NewAltCorrection1(id, word, corrections...), nil
		}
		return search.NewAltCorrection2(id, word, corrections...), nil
	case SynonymPlaceholder:
		placeholder, err := stringField(syn, "placeholder")
		if err != nil {
			return nil, err
		}
		replacements, err := stringList(syn, "replacements")
		if err != nil {
			return nil, err
		}
		return search.NewPlaceholder(id, placeholder, replacements...), nil
	default:
		return nil, fmt.Errorf("synonym %q: unknown type %q", id, kind)
	}
}

func stringField(doc map[string]any, key string) (string, error) {
	v, ok := doc[key].(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return v, nil
}

func stringList(doc map[string]any, key string) ([]string, error) {
	switch v := doc[key].(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must contain only strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of strings", key)
	}
}

func remarshal(in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
