// Package transform applies the record post-processing steps: host
// restoration, path extraction, pagerank scoring and attribute stripping.
package transform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/docsearch-stager/internal/record"
	"github.com/JakeFAU/docsearch-stager/internal/rules"
)

// ErrMissingWeight is returned when a pagerank rule matches a record that has
// no weight object. It aborts the run.
var ErrMissingWeight = errors.New("record has no weight to apply pagerank to")

// Transformer mutates extracted records in place.
type Transformer struct {
	rules rules.Rules
}

// New creates a Transformer for the resolved rules.
func New(r rules.Rules) *Transformer {
	return &Transformer{rules: r}
}

// PostProcess rewrites pageURL and every record. Records are modified in
// place and returned in their original order; none are dropped.
func (t *Transformer) PostProcess(pageURL string, records []*record.Record) (string, []*record.Record, error) {
	pageURL = t.rules.HostRewrite.Rewrite(pageURL)

	for _, rec := range records {
		if err := t.processRecord(rec); err != nil {
			return pageURL, records, fmt.Errorf("post-process %s: %w", pageURL, err)
		}
	}
	return pageURL, records, nil
}

func (t *Transformer) processRecord(rec *record.Record) error {
	if t.rules.HostRewrite != nil {
		t.restoreHost(rec)
	}

	if rec.URLWithoutAnchor != nil {
		rec.Path = record.String(urlPath(*rec.URLWithoutAnchor))
	}

	if err := t.applyPagerank(rec); err != nil {
		return err
	}

	RemoveAttributes(rec, t.rules.AttributesToRemove)
	return nil
}

func (t *Transformer) restoreHost(rec *record.Record) {
	rewrite := t.rules.HostRewrite
	if rec.URL != "" {
		rec.URL = rewrite.Rewrite(rec.URL)
	}
	if rec.URLWithoutAnchor != nil {
		rec.URLWithoutAnchor = record.String(rewrite.Rewrite(*rec.URLWithoutAnchor))
	}
	if rec.URLWithoutVariables != nil {
		rec.URLWithoutVariables = record.String(rewrite.Rewrite(*rec.URLWithoutVariables))
	}
}

func (t *Transformer) applyPagerank(rec *record.Record) error {
	for _, rule := range t.rules.PagerankRules {
		value, ok := rec.StringValue(rule.Field)
		if !ok {
			continue
		}
		matched, err := rule.Pattern.MatchString(value)
		if err != nil {
			return fmt.Errorf("record %q: %w", rec.ObjectID, err)
		}
		if !matched {
			continue
		}
		if rec.Weight == nil {
			return fmt.Errorf("record %q: %w", rec.ObjectID, ErrMissingWeight)
		}
		rec.Weight.AddPageRank(rule.PageRank)
	}
	return nil
}

// RemoveAttributes deletes every key of rec matched by any of patterns.
// Applying it twice is the same as applying it once.
func RemoveAttributes(rec *record.Record, patterns []*rules.Pattern) {
	if len(patterns) == 0 {
		return
	}
	for _, key := range rec.Keys() {
		for _, pattern := range patterns {
			// A key that cannot be evaluated is kept.
			if matched, err := pattern.MatchString(key); err == nil && matched {
				rec.Delete(key)
				break
			}
		}
	}
}

// urlPath returns the path component of raw exactly as written: scheme,
// authority, query, fragment and the last segment's ;params are cut and
// nothing is decoded or re-escaped.
func urlPath(raw string) string {
	rest := raw
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, ':'); i > 0 && isScheme(rest[:i]) {
		rest = rest[i+1:]
	}
	if strings.HasPrefix(rest, "//") {
		j := strings.IndexByte(rest[2:], '/')
		if j < 0 {
			return ""
		}
		rest = rest[2+j:]
	}
	if i := strings.IndexByte(rest[strings.LastIndexByte(rest, '/')+1:], ';'); i >= 0 {
		rest = rest[:strings.LastIndexByte(rest, '/')+1+i]
	}
	return rest
}

func isScheme(s string) bool {
	for i, c := range s {
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case i > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}
