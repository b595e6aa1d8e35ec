// Package index defines the search index service the staging pipeline writes
// to. Backends live in subpackages: algolia for the hosted service, bleve for
// file-backed local runs and memory for dry runs and tests.
package index

import (
	"context"
	"errors"

	"github.com/JakeFAU/docsearch-stager/internal/record"
)

// ErrIndexNotFound is returned when an operation needs an index that was never
// written to.
var ErrIndexNotFound = errors.New("index not found")

// Settings is an opaque index settings document.
type Settings map[string]any

// Rule is an opaque query rule document.
type Rule map[string]any

// Synonym is an opaque synonym document. Backends read "objectID" and "type"
// and pass the rest through.
type Synonym map[string]any

// ObjectID returns the synonym's objectID or "" when unset.
func (s Synonym) ObjectID() string {
	id, _ := s["objectID"].(string)
	return id
}

// SaveRulesOptions controls how SaveRules treats replicas and existing rules.
type SaveRulesOptions struct {
	ForwardToReplicas bool
	ClearExisting     bool
}

// Index is a handle on one named index. Handles are cheap; the index itself is
// created by the first write.
type Index interface {
	Name() string
	SetSettings(ctx context.Context, settings Settings) error
	SaveRules(ctx context.Context, rules []Rule, opts SaveRulesOptions) error
	SaveObjects(ctx context.Context, records []*record.Record) error
	SaveSynonyms(ctx context.Context, synonyms []Synonym) error
}

// Service manages indices. Every method blocks until the backend has applied
// the change.
type Service interface {
	InitIndex(name string) Index
	// DeleteIndex removes name with its objects, settings, rules and
	// synonyms. Deleting a missing index succeeds.
	DeleteIndex(ctx context.Context, name string) error
	// CopyRules replaces dst's query rules with a copy of src's.
	CopyRules(ctx context.Context, src, dst string) error
	// MoveIndex atomically replaces dst with src; src no longer exists after.
	MoveIndex(ctx context.Context, src, dst string) error
}
