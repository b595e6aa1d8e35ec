// Package memory implements index.Service in memory for dry runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/JakeFAU/docsearch-stager/internal/index"
	"github.com/JakeFAU/docsearch-stager/internal/record"
)

// Operation names used for call logs and failure injection.
const (
	OpSetSettings  = "set_settings"
	OpSaveRules    = "save_rules"
	OpSaveObjects  = "save_objects"
	OpSaveSynonyms = "save_synonyms"
	OpCopyRules    = "copy_rules"
	OpDeleteIndex  = "delete_index"
	OpMoveIndex    = "move_index"
)

// Call is one recorded service or index invocation.
type Call struct {
	Op    string
	Index string
	// Target is the destination index for copy and move.
	Target string
	Count  int
}

// Snapshot is a deep copy of an index's contents.
type Snapshot struct {
	Exists   bool
	Settings index.Settings
	Rules    []index.Rule
	Objects  map[string]json.RawMessage
	Synonyms map[string]index.Synonym
}

// ObjectIDs returns the stored object IDs in sorted order.
func (s Snapshot) ObjectIDs() []string {
	return slices.Sorted(maps.Keys(s.Objects))
}

type state struct {
	settings index.Settings
	rules    []index.Rule
	objects  map[string]json.RawMessage
	synonyms map[string]index.Synonym
}

func newState() *state {
	return &state{
		objects:  make(map[string]json.RawMessage),
		synonyms: make(map[string]index.Synonym),
	}
}

type failure struct {
	op, name string
	call     int
	seen     int
	err      error
}

// Service is an in-memory index.Service.
type Service struct {
	mu       sync.Mutex
	indices  map[string]*state
	calls    []Call
	failures []*failure
}

// New returns an empty Service.
func New() *Service {
	return &Service{indices: make(map[string]*state)}
}

// FailOn makes the call-th invocation (1-based) of op against name return err.
// A call of 0 fails every invocation.
func (s *Service) FailOn(op, name string, call int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{op: op, name: name, call: call, err: err})
}

// Calls returns the recorded invocations in order.
func (s *Service) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallsFor returns the recorded invocations of op.
func (s *Service) CallsFor(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Seed creates or replaces an index with the given contents.
func (s *Service) Seed(name string, settings index.Settings, rules []index.Rule, records ...*record.Record) error {
	st := newState()
	st.settings = cloneDoc(settings)
	for _, r := range rules {
		st.rules = append(st.rules, cloneDoc(r))
	}
	for _, rec := range records {
		raw, err := record.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %q: %w", rec.ObjectID, err)
		}
		st.objects[rec.ObjectID] = raw
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indices[name] = st
	return nil
}

// Snapshot returns a copy of the named index.
func (s *Service) Snapshot(name string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.indices[name]
	if !ok {
		return Snapshot{}
	}
	snap := Snapshot{
		Exists:   true,
		Settings: cloneDoc(st.settings),
		Objects:  make(map[string]json.RawMessage, len(st.objects)),
		Synonyms: make(map[string]index.Synonym, len(st.synonyms)),
	}
	for _, r := range st.rules {
		snap.Rules = append(snap.Rules, cloneDoc(r))
	}
	for id, raw := range st.objects {
		snap.Objects[id] = slices.Clone(raw)
	}
	for id, syn := range st.synonyms {
		snap.Synonyms[id] = cloneDoc(syn)
	}
	return snap
}

// InitIndex returns a handle; the index is created by the first write.
func (s *Service) InitIndex(name string) index.Index {
	return &Index{name: name, svc: s}
}

// DeleteIndex drops the named index.
func (s *Service) DeleteIndex(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: OpDeleteIndex, Index: name}); err != nil {
		return err
	}
	delete(s.indices, name)
	return nil
}

// CopyRules replaces dst's rules with src's. A missing src clears dst's rules.
func (s *Service) CopyRules(_ context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: OpCopyRules, Index: src, Target: dst}); err != nil {
		return err
	}
	var rules []index.Rule
	if st, ok := s.indices[src]; ok {
		for _, r := range st.rules {
			rules = append(rules, cloneDoc(r))
		}
	}
	s.ensure(dst).rules = rules
	return nil
}

// MoveIndex replaces dst with src and removes src.
func (s *Service) MoveIndex(_ context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Op: OpMoveIndex, Index: src, Target: dst}); err != nil {
		return err
	}
	st, ok := s.indices[src]
	if !ok {
		return fmt.Errorf("move %s to %s: %w", src, dst, index.ErrIndexNotFound)
	}
	s.indices[dst] = st
	delete(s.indices, src)
	return nil
}

// record appends the call and returns an injected failure, if any. Callers
// hold s.mu.
func (s *Service) record(c Call) error {
	s.calls = append(s.calls, c)
	for _, f := range s.failures {
		if f.op != c.Op || f.name != c.Index {
			continue
		}
		f.seen++
		if f.call == 0 || f.call == f.seen {
			return fmt.Errorf("%s %s: %w", c.Op, c.Index, f.err)
		}
	}
	return nil
}

func (s *Service) ensure(name string) *state {
	st, ok := s.indices[name]
	if !ok {
		st = newState()
		s.indices[name] = st
	}
	return st
}

// Index is a handle on one in-memory index.
type Index struct {
	name string
	svc  *Service
}

// Name returns the index name.
func (i *Index) Name() string { return i.name }

// SetSettings replaces the index settings.
func (i *Index) SetSettings(_ context.Context, settings index.Settings) error {
	i.svc.mu.Lock()
	defer i.svc.mu.Unlock()
	if err := i.svc.record(Call{Op: OpSetSettings, Index: i.name}); err != nil {
		return err
	}
	i.svc.ensure(i.name).settings = cloneDoc(settings)
	return nil
}

// SaveRules upserts rules by objectID, optionally clearing existing ones first.
func (i *Index) SaveRules(_ context.Context, rules []index.Rule, opts index.SaveRulesOptions) error {
	i.svc.mu.Lock()
	defer i.svc.mu.Unlock()
	if err := i.svc.record(Call{Op: OpSaveRules, Index: i.name, Count: len(rules)}); err != nil {
		return err
	}
	st := i.svc.ensure(i.name)
	if opts.ClearExisting {
		st.rules = nil
	}
	for _, r := range rules {
		id, _ := r["objectID"].(string)
		replaced := false
		for n, existing := range st.rules {
			if existingID, _ := existing["objectID"].(string); id != "" && existingID == id {
				st.rules[n] = cloneDoc(r)
				replaced = true
				break
			}
		}
		if !replaced {
			st.rules = append(st.rules, cloneDoc(r))
		}
	}
	return nil
}

// SaveObjects upserts records by objectID.
func (i *Index) SaveObjects(_ context.Context, records []*record.Record) error {
	encoded := make([]json.RawMessage, len(records))
	for n, rec := range records {
		raw, err := record.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %q: %w", rec.ObjectID, err)
		}
		encoded[n] = raw
	}

	i.svc.mu.Lock()
	defer i.svc.mu.Unlock()
	if err := i.svc.record(Call{Op: OpSaveObjects, Index: i.name, Count: len(records)}); err != nil {
		return err
	}
	st := i.svc.ensure(i.name)
	for n, rec := range records {
		st.objects[rec.ObjectID] = encoded[n]
	}
	return nil
}

// SaveSynonyms upserts synonyms by objectID.
func (i *Index) SaveSynonyms(_ context.Context, synonyms []index.Synonym) error {
	i.svc.mu.Lock()
	defer i.svc.mu.Unlock()
	if err := i.svc.record(Call{Op: OpSaveSynonyms, Index: i.name, Count: len(synonyms)}); err != nil {
		return err
	}
	st := i.svc.ensure(i.name)
	for _, syn := range synonyms {
		st.synonyms[syn.ObjectID()] = cloneDoc(syn)
	}
	return nil
}

// cloneDoc deep-copies a JSON-shaped document.
func cloneDoc[M ~map[string]any](doc M) M {
	if doc == nil {
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return maps.Clone(doc)
	}
	var out M
	if err := json.Unmarshal(raw, &out); err != nil {
		return maps.Clone(doc)
	}
	return out
}
