// Package record models the search-index documents produced by the extraction
// stage. A Record carries the handful of fields the staging pipeline reasons
// about as typed values and keeps every other key in an open extension map so
// arbitrary attributes survive post-processing untouched.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"unicode/utf16"
	"unicode/utf8"
)

// Well-known record keys.
const (
	KeyObjectID            = "objectID"
	KeyURL                 = "url"
	KeyURLWithoutAnchor    = "url_without_anchor"
	KeyURLWithoutVariables = "url_without_variables"
	KeyPath                = "path"
	KeyWeight              = "weight"
)

// Record is one search-index document.
//
// ObjectID and URL are present when non-empty or when set explicitly by
// decoding or Set, so a decoded "" survives re-encoding. The pointer fields
// are omitted when nil. Attributes holds every other key, with numbers
// decoded as json.Number so they re-encode byte for byte.
type Record struct {
	ObjectID            string
	URL                 string
	hasObjectID         bool
	hasURL              bool
	URLWithoutAnchor    *string
	URLWithoutVariables *string
	Path                *string
	Weight              *Weight
	Attributes          map[string]any
}

// String returns a pointer to s, for populating optional fields.
func String(s string) *string {
	return &s
}

// Has reports whether key is present on the record.
func (r *Record) Has(key string) bool {
	switch key {
	case KeyObjectID:
		return r.hasObjectID || r.ObjectID != ""
	case KeyURL:
		return r.hasURL || r.URL != ""
	case KeyURLWithoutAnchor:
		return r.URLWithoutAnchor != nil
	case KeyURLWithoutVariables:
		return r.URLWithoutVariables != nil
	case KeyPath:
		return r.Path != nil
	case KeyWeight:
		return r.Weight != nil
	default:
		_, ok := r.Attributes[key]
		return ok
	}
}

// Keys returns the present keys in sorted order.
func (r *Record) Keys() []string {
	keys := make([]string, 0, len(r.Attributes)+6)
	for _, key := range []string{KeyObjectID, KeyURL, KeyURLWithoutAnchor, KeyURLWithoutVariables, KeyPath, KeyWeight} {
		if r.Has(key) {
			keys = append(keys, key)
		}
	}
	for key := range r.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Delete removes key from the record. Known fields are cleared; unknown keys
// are dropped from Attributes. Deleting an absent key is a no-op.
func (r *Record) Delete(key string) {
	switch key {
	case KeyObjectID:
		r.ObjectID, r.hasObjectID = "", false
	case KeyURL:
		r.URL, r.hasURL = "", false
	case KeyURLWithoutAnchor:
		r.URLWithoutAnchor = nil
	case KeyURLWithoutVariables:
		r.URLWithoutVariables = nil
	case KeyPath:
		r.Path = nil
	case KeyWeight:
		r.Weight = nil
	default:
		delete(r.Attributes, key)
	}
}

// StringValue returns the value stored under key when it is a string.
func (r *Record) StringValue(key string) (string, bool) {
	switch key {
	case KeyObjectID:
		return r.ObjectID, r.Has(KeyObjectID)
	case KeyURL:
		return r.URL, r.Has(KeyURL)
	case KeyURLWithoutAnchor:
		return deref(r.URLWithoutAnchor)
	case KeyURLWithoutVariables:
		return deref(r.URLWithoutVariables)
	case KeyPath:
		return deref(r.Path)
	case KeyWeight:
		return "", false
	default:
		s, ok := r.Attributes[key].(string)
		return s, ok
	}
}

// Set stores value under key. Known keys must carry the matching type.
func (r *Record) Set(key string, value any) error {
	switch key {
	case KeyObjectID, KeyURL, KeyURLWithoutAnchor, KeyURLWithoutVariables, KeyPath:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s must be a string, got %T", key, value)
		}
		r.setString(key, s)
	case KeyWeight:
		w, ok := value.(*Weight)
		if !ok {
			return fmt.Errorf("%s must be a *Weight, got %T", key, value)
		}
		r.Weight = w
	default:
		if r.Attributes == nil {
			r.Attributes = make(map[string]any)
		}
		r.Attributes[key] = value
	}
	return nil
}

func (r *Record) setString(key, s string) {
	switch key {
	case KeyObjectID:
		r.ObjectID, r.hasObjectID = s, true
	case KeyURL:
		r.URL, r.hasURL = s, true
	case KeyURLWithoutAnchor:
		r.URLWithoutAnchor = String(s)
	case KeyURLWithoutVariables:
		r.URLWithoutVariables = String(s)
	case KeyPath:
		r.Path = String(s)
	}
}

// EncodedSize is the byte length of the record's minimal ASCII-only JSON
// encoding, the form the record size ceiling is measured on.
func (r *Record) EncodedSize() (int, error) {
	data, err := MarshalASCII(r)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// MarshalJSON flattens the typed fields and Attributes into one object.
func (r Record) MarshalJSON() ([]byte, error) {
	return Marshal(r.fields())
}

func (r Record) fields() map[string]any {
	out := make(map[string]any, len(r.Attributes)+6)
	for key, value := range r.Attributes {
		out[key] = value
	}
	if r.Has(KeyObjectID) {
		out[KeyObjectID] = r.ObjectID
	}
	if r.Has(KeyURL) {
		out[KeyURL] = r.URL
	}
	if r.URLWithoutAnchor != nil {
		out[KeyURLWithoutAnchor] = *r.URLWithoutAnchor
	}
	if r.URLWithoutVariables != nil {
		out[KeyURLWithoutVariables] = *r.URLWithoutVariables
	}
	if r.Path != nil {
		out[KeyPath] = *r.Path
	}
	if r.Weight != nil {
		out[KeyWeight] = r.Weight
	}
	return out
}

// UnmarshalJSON decodes a flat JSON object into the typed fields and Attributes.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if raw == nil {
		return errors.New("decode record: expected an object")
	}
	*r = Record{}
	for key, value := range raw {
		if err := r.decodeKey(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Record) decodeKey(key string, value json.RawMessage) error {
	switch key {
	case KeyObjectID, KeyURL, KeyURLWithoutAnchor, KeyURLWithoutVariables, KeyPath:
		if isNull(value) {
			return nil
		}
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return fmt.Errorf("decode %s: must be a string", key)
		}
		r.setString(key, s)
	case KeyWeight:
		if isNull(value) {
			return nil
		}
		var w Weight
		if err := json.Unmarshal(value, &w); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		r.Weight = &w
	default:
		v, err := decodeValue(value)
		if err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if r.Attributes == nil {
			r.Attributes = make(map[string]any)
		}
		r.Attributes[key] = v
	}
	return nil
}

// Marshal encodes v as minimal JSON without HTML escaping. Map keys are
// emitted in sorted order.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// MarshalASCII is Marshal with every non-ASCII rune written as a lowercase
// \uXXXX escape. Runes outside the Basic Multilingual Plane become a UTF-16
// surrogate pair.
func MarshalASCII(v any) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data))
	for _, r := range string(data) {
		switch {
		case r < utf8.RuneSelf:
			out = append(out, byte(r))
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			out = fmt.Appendf(out, `\u%04x\u%04x`, hi, lo)
		default:
			out = fmt.Appendf(out, `\u%04x`, r)
		}
	}
	return out, nil
}

// MarshalIndent encodes v with two-space indentation and sorted keys.
func MarshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func deref(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}
