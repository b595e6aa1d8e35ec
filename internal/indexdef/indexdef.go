// Package indexdef loads an index definition: the settings, query rules and
// synonyms applied to a staged index. Definitions are authored as YAML or as
// JSONC (JSON with comments and trailing commas).
//
//	settings:
//	  hitsPerPage: 20
//	query_rules:
//	  - objectID: pin-quickstart
//	    consequence: {...}
//	synonyms:
//	  js: [js, javascript]
//	  docs: {type: oneWaySynonym, input: docs, synonyms: [documentation]}
//
// A synonym given as a plain list is a regular synonym group.
package indexdef

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/docsearch-stager/internal/index"
)

// Format is the encoding of a definition file.
type Format int

const (
	// JSONC is JSON with comments and trailing commas.
	JSONC Format = iota
	// YAML is YAML 1.2.
	YAML
)

// Definition is everything a run applies to the staging index besides records.
type Definition struct {
	Settings   index.Settings
	QueryRules []index.Rule
	Synonyms   map[string]index.Synonym
}

type document struct {
	Settings   map[string]any             `json:"settings"`
	QueryRules []map[string]any           `json:"query_rules"`
	Synonyms   map[string]json.RawMessage `json:"synonyms"`
}

// FormatFromPath picks YAML for .yaml/.yml and JSONC for everything else.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	default:
		return JSONC
	}
}

// ReadFile reads and parses a definition file.
func ReadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path.
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	def, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes and validates a definition.
func Parse(data []byte, format Format) (*Definition, error) {
	var (
		raw []byte
		err error
	)
	switch format {
	case YAML:
		raw, err = yamlToJSON(data)
		if err != nil {
			return nil, err
		}
	case JSONC:
		raw = jsonc.ToJSON(data)
	default:
		return nil, fmt.Errorf("unknown definition format %d", format)
	}

	var doc document
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parsing definition: %w", err)
		}
	}
	return doc.resolve()
}

func yamlToJSON(data []byte) ([]byte, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parsing definition: %w", err)
	}
	if generic == nil {
		return nil, nil
	}
	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("parsing definition: %w", err)
	}
	return raw, nil
}

func (d document) resolve() (*Definition, error) {
	def := &Definition{
		Settings: index.Settings(d.Settings),
		Synonyms: make(map[string]index.Synonym, len(d.Synonyms)),
	}

	seen := make(map[string]struct{}, len(d.QueryRules))
	for i, rule := range d.QueryRules {
		id, _ := rule["objectID"].(string)
		if id == "" {
			return nil, fmt.Errorf("query rule %d: objectID is required", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("query rule %q: duplicate objectID", id)
		}
		seen[id] = struct{}{}
		def.QueryRules = append(def.QueryRules, index.Rule(rule))
	}

	for key, raw := range d.Synonyms {
		syn, err := decodeSynonym(raw)
		if err != nil {
			return nil, fmt.Errorf("synonym %q: %w", key, err)
		}
		def.Synonyms[key] = syn
	}
	return def, nil
}

func decodeSynonym(raw json.RawMessage) (index.Synonym, error) {
	var words []string
	if err := json.Unmarshal(raw, &words); err == nil {
		if len(words) < 2 {
			return nil, errors.New("a synonym group needs at least two words")
		}
		return index.Synonym{"type": "synonym", "synonyms": words}, nil
	}

	var syn index.Synonym
	if err := json.Unmarshal(raw, &syn); err != nil || syn == nil {
		return nil, errors.New("must be a list of words or a synonym object")
	}
	if _, ok := syn["type"]; !ok {
		syn["type"] = "synonym"
	}
	return syn, nil
}
