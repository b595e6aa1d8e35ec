// Package rules resolves the record post-processing configuration: pagerank
// rules, attribute-removal patterns, the host rewrite and the per-record size
// ceiling.
//
// Resolution is fail-soft. A malformed entry is logged, counted and skipped;
// a malformed setting falls back to its empty value. Resolve never returns an
// error, so a typo in one rule cannot stop a publishing run.
package rules

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/docsearch-stager/internal/metrics"
)

// Setting names used in warnings and metrics.
const (
	SettingPagerankRules      = "pagerank_rules"
	SettingAttributesToRemove = "remove_attributes"
	SettingMaxRecordBytes     = "max_record_bytes"
	SettingShowRecords        = "show_records"
)

// Raw holds the unparsed configuration values as read from the environment
// or config file.
type Raw struct {
	PagerankRules      string
	AttributesToRemove string
	OverrideHost       string
	LocalServerHost    string
	LocalServerURL     string
	MaxBytesPerRecord  string
	ShowRecords        string
}

// PagerankRule adds PageRank to weight.page_rank of records whose Field
// value matches Pattern.
type PagerankRule struct {
	Field    string
	Pattern  *Pattern
	PageRank float64
}

// Rules is the resolved, immutable post-processing configuration.
type Rules struct {
	PagerankRules      []PagerankRule
	AttributesToRemove []*Pattern
	// HostRewrite is nil when no rewrite is configured.
	HostRewrite *HostRewrite
	// MaxBytesPerRecord is 0 when records are unbounded.
	MaxBytesPerRecord int
	ShowRecords       bool
}

// Resolve parses raw into Rules, logging and skipping anything invalid.
func Resolve(raw Raw, logger *zap.Logger) Rules {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := resolver{logger: logger}
	return Rules{
		PagerankRules:      r.pagerankRules(raw.PagerankRules),
		AttributesToRemove: r.attributesToRemove(raw.AttributesToRemove),
		HostRewrite:        NewHostRewrite(raw.OverrideHost, raw.LocalServerHost, raw.LocalServerURL),
		MaxBytesPerRecord:  r.maxBytesPerRecord(raw.MaxBytesPerRecord),
		ShowRecords:        r.showRecords(raw.ShowRecords),
	}
}

type resolver struct {
	logger *zap.Logger
}

func (r resolver) warn(setting, msg string, fields ...zap.Field) {
	metrics.ObserveConfigWarning(setting)
	r.logger.Warn(msg, append([]zap.Field{zap.String("setting", setting)}, fields...)...)
}

type rawPagerankRule struct {
	Field    *string  `json:"field"`
	Pattern  *string  `json:"pattern"`
	PageRank *float64 `json:"page_rank"`
}

func (r resolver) pagerankRules(value string) []PagerankRule {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(value), &entries); err != nil {
		r.warn(SettingPagerankRules, "pagerank rules must be a JSON array", zap.Error(err))
		return nil
	}

	out := make([]PagerankRule, 0, len(entries))
	for i, entry := range entries {
		rule, err := parsePagerankRule(entry)
		if err != nil {
			r.warn(SettingPagerankRules, "skipping invalid pagerank rule",
				zap.Int("index", i),
				zap.ByteString("rule", entry),
				zap.Error(err),
			)
			continue
		}
		out = append(out, rule)
	}
	return out
}

func parsePagerankRule(entry json.RawMessage) (PagerankRule, error) {
	var raw rawPagerankRule
	if err := json.Unmarshal(entry, &raw); err != nil {
		return PagerankRule{}, err
	}
	if raw.Field == nil || raw.Pattern == nil || raw.PageRank == nil {
		return PagerankRule{}, errors.New("field, pattern and page_rank are required")
	}
	pattern, err := CompilePattern(*raw.Pattern)
	if err != nil {
		return PagerankRule{}, err
	}
	return PagerankRule{Field: *raw.Field, Pattern: pattern, PageRank: *raw.PageRank}, nil
}

func (r resolver) attributesToRemove(value string) []*Pattern {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(value), &entries); err != nil {
		r.warn(SettingAttributesToRemove, "attributes to remove must be a JSON array of patterns", zap.Error(err))
		return nil
	}

	out := make([]*Pattern, 0, len(entries))
	for i, entry := range entries {
		var expr string
		if err := json.Unmarshal(entry, &expr); err != nil {
			r.warn(SettingAttributesToRemove, "skipping non-string attribute pattern",
				zap.Int("index", i),
				zap.ByteString("pattern", entry),
			)
			continue
		}
		pattern, err := CompilePattern(expr)
		if err != nil {
			r.warn(SettingAttributesToRemove, "skipping invalid attribute pattern",
				zap.Int("index", i),
				zap.String("pattern", expr),
				zap.Error(err),
			)
			continue
		}
		out = append(out, pattern)
	}
	return out
}

func (r resolver) maxBytesPerRecord(value string) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.warn(SettingMaxRecordBytes, "max record bytes must be an integer; records are unbounded",
			zap.String("value", value),
		)
		return 0
	}
	if n <= 0 {
		return 0
	}
	return n
}

func (r resolver) showRecords(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		r.warn(SettingShowRecords, "show records must be a boolean; echo disabled", zap.String("value", value))
		return false
	}
	return enabled
}
