package record

import (
	"encoding/json"
	"errors"
	"fmt"
)

// KeyPageRank is the weight sub-field adjusted by pagerank rules.
const KeyPageRank = "page_rank"

// Weight is the ranking sub-object of a record. PageRank is nil when the
// extractor did not emit one; Extra keeps the remaining sub-fields (level,
// position, ...) as decoded.
type Weight struct {
	PageRank *float64
	Extra    map[string]any
}

// AddPageRank increments page_rank by delta, treating a missing value as 0.
func (w *Weight) AddPageRank(delta float64) {
	current := 0.0
	if w.PageRank != nil {
		current = *w.PageRank
	}
	next := current + delta
	w.PageRank = &next
}

// MarshalJSON flattens PageRank and Extra into one object.
func (w Weight) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(w.Extra)+1)
	for key, value := range w.Extra {
		out[key] = value
	}
	if w.PageRank != nil {
		out[KeyPageRank] = *w.PageRank
	}
	return Marshal(out)
}

// UnmarshalJSON decodes a weight object; page_rank must be numeric.
func (w *Weight) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("weight must be an object: %w", err)
	}
	if raw == nil {
		return errors.New("weight must be an object")
	}
	*w = Weight{}
	for key, value := range raw {
		if key == KeyPageRank {
			if isNull(value) {
				continue
			}
			var rank float64
			if err := json.Unmarshal(value, &rank); err != nil {
				return fmt.Errorf("%s must be a number", KeyPageRank)
			}
			w.PageRank = &rank
			continue
		}
		v, err := decodeValue(value)
		if err != nil {
			return fmt.Errorf("decode weight.%s: %w", key, err)
		}
		if w.Extra == nil {
			w.Extra = make(map[string]any)
		}
		w.Extra[key] = v
	}
	return nil
}
