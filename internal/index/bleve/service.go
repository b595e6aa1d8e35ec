// Package bleve implements index.Service on local bleve indices so a run can
// be staged and promoted without the hosted service.
//
// Each index is a directory under the root holding settings.json, rules.json,
// synonyms.json and a docs bleve index. Promotion is a directory rename.
package bleve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsearch-stager/internal/index"
	"github.com/JakeFAU/docsearch-stager/internal/record"
)

const (
	settingsFile = "settings.json"
	rulesFile    = "rules.json"
	synonymsFile = "synonyms.json"
	docsDir      = "docs.bleve"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Config captures the parameters for the local index backend.
type Config struct {
	// Root is the directory that holds one subdirectory per index.
	Root string `mapstructure:"root"`
}

// Service manages bleve indices under a root directory.
type Service struct {
	root   string
	logger *zap.Logger

	mu   sync.Mutex
	open map[string]bleve.Index
}

// New creates the root directory if needed and returns a Service.
func New(cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("index root directory is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o750); err != nil {
		return nil, fmt.Errorf("create index root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{root: cfg.Root, logger: logger.Named("bleve"), open: make(map[string]bleve.Index)}, nil
}

// InitIndex returns a handle on the named index.
func (s *Service) InitIndex(name string) index.Index {
	return &Index{name: name, svc: s}
}

// DocCount returns the number of documents stored in the named index.
func (s *Service) DocCount(name string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkName(name); err != nil {
		return 0, err
	}
	if _, err := os.Stat(s.dir(name)); errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("count %s: %w", name, index.ErrIndexNotFound)
	}
	idx, err := s.docs(name)
	if err != nil {
		return 0, err
	}
	count, err := idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", name, err)
	}
	return count, nil
}

// Rules returns the stored rules of the named index.
func (s *Service) Rules(name string) ([]index.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rules []index.Rule
	if err := s.readJSON(name, rulesFile, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// Close releases every open bleve index.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for name := range s.open {
		errs = append(errs, s.release(name))
	}
	return errors.Join(errs...)
}

// DeleteIndex closes the named index and removes its directory.
func (s *Service) DeleteIndex(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkName(name); err != nil {
		return err
	}
	if err := s.release(name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if err := os.RemoveAll(s.dir(name)); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// CopyRules replaces dst's rules with src's. A missing src clears dst's rules.
func (s *Service) CopyRules(_ context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkName(src); err != nil {
		return err
	}
	var rules []index.Rule
	if err := s.readJSON(src, rulesFile, &rules); err != nil {
		return fmt.Errorf("copy rules %s to %s: %w", src, dst, err)
	}
	if rules == nil {
		rules = []index.Rule{}
	}
	if err := s.writeJSON(dst, rulesFile, rules); err != nil {
		return fmt.Errorf("copy rules %s to %s: %w", src, dst, err)
	}
	return nil
}

// MoveIndex renames src's directory over dst's.
func (s *Service) MoveIndex(_ context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkName(src); err != nil {
		return err
	}
	if err := checkName(dst); err != nil {
		return err
	}
	if _, err := os.Stat(s.dir(src)); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("move %s to %s: %w", src, dst, index.ErrIndexNotFound)
	}
	if err := errors.Join(s.release(src), s.release(dst)); err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}

	// Park the old live directory so the rename itself never fails on a
	// non-empty destination.
	parked := s.dir(dst) + ".old"
	if err := os.RemoveAll(parked); err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	hadLive := true
	if err := os.Rename(s.dir(dst), parked); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("move %s to %s: %w", src, dst, err)
		}
		hadLive = false
	}
	if err := os.Rename(s.dir(src), s.dir(dst)); err != nil {
		if hadLive {
			_ = os.Rename(parked, s.dir(dst))
		}
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	if hadLive {
		if err := os.RemoveAll(parked); err != nil {
			s.logger.Warn("failed to remove replaced index", zap.String("path", parked), zap.Error(err))
		}
	}
	s.logger.Info("index moved", zap.String("src", src), zap.String("dst", dst))
	return nil
}

func (s *Service) dir(name string) string {
	return filepath.Join(s.root, name)
}

// docs opens or creates the bleve index of name. Callers hold s.mu.
func (s *Service) docs(name string) (bleve.Index, error) {
	if idx, ok := s.open[name]; ok {
		return idx, nil
	}
	if err := os.MkdirAll(s.dir(name), 0o750); err != nil {
		return nil, fmt.Errorf("create index dir %s: %w", name, err)
	}
	path := filepath.Join(s.dir(name), docsDir)
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", name, err)
	}
	s.open[name] = idx
	return idx, nil
}

// release closes the bleve index of name if open. Callers hold s.mu.
func (s *Service) release(name string) error {
	idx, ok := s.open[name]
	if !ok {
		return nil
	}
	delete(s.open, name)
	if err := idx.Close(); err != nil {
		return fmt.Errorf("close index %s: %w", name, err)
	}
	return nil
}

// readJSON decodes a metadata file; a missing file leaves v untouched.
func (s *Service) readJSON(name, file string, v any) error {
	if err := checkName(name); err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(s.dir(name), file))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", file, err)
	}
	return nil
}

func (s *Service) writeJSON(name, file string, v any) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir(name), 0o750); err != nil {
		return fmt.Errorf("create index dir %s: %w", name, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", file, err)
	}
	path := filepath.Join(s.dir(name), file)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}

func checkName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid index name %q", name)
	}
	return nil
}

// Index is a handle on one local index.
type Index struct {
	name string
	svc  *Service
}

// Name returns the index name.
func (i *Index) Name() string { return i.name }

// SetSettings replaces settings.json.
func (i *Index) SetSettings(_ context.Context, settings index.Settings) error {
	i.svc.mu.Lock()
	defer i.svc.mu.Unlock()
	if settings == nil {
		settings = index.Settings{}
	}
	if err := i.svc.writeJSON(i.name, settingsFile, settings); err != nil {
		return fmt.Errorf("set settings on %s: %w", i.name, err)
	}
	return nil
}

// SaveRules upserts rules by objectID into rules.json.
func (i *Index) SaveRules(_ context.Context, rules []index.Rule, opts index.SaveRulesOptions) error {
	i.svc.mu.Lock()
	defer i.svc.mu.Unlock()
	var existing []index.Rule
	if !opts.ClearExisting {
		if err := i.svc.readJSON(i.name, rulesFile, &existing); err != nil {
			return fmt.Errorf("save rules on %s: %w", i.name, err)
		}
	}
	merged := upsert(existing, rules)
	if err := i.svc.writeJSON(i.name, rulesFile, merged); err != nil {
		return fmt.Errorf("save rules on %s: %w", i.name, err)
	}
	return nil
}

// SaveObjects indexes records keyed by objectID in one batch.
func (i *Index) SaveObjects(_ context.Context, records []*record.Record) error {
	i.svc.mu.Lock()
	defer i.svc.mu.Unlock()
	if err := checkName(i.name); err != nil {
		return err
	}
	idx, err := i.svc.docs(i.name)
	if err != nil {
		return err
	}
	batch := idx.NewBatch()
	for _, rec := range records {
		doc, err := document(rec)
		if err != nil {
			return fmt.Errorf("save objects on %s: %w", i.name, err)
		}
		if err := batch.Index(rec.ObjectID, doc); err != nil {
			return fmt.Errorf("save objects on %s: index %q: %w", i.name, rec.ObjectID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("save objects on %s: %w", i.name, err)
	}
	return nil
}

// SaveSynonyms upserts synonyms by objectID into synonyms.json.
func (i *Index) SaveSynonyms(_ context.Context, synonyms []index.Synonym) error {
	i.svc.mu.Lock()
	defer i.svc.mu.Unlock()
	var existing []index.Synonym
	if err := i.svc.readJSON(i.name, synonymsFile, &existing); err != nil {
		return fmt.Errorf("save synonyms on %s: %w", i.name, err)
	}
	if err := i.svc.writeJSON(i.name, synonymsFile, upsert(existing, synonyms)); err != nil {
		return fmt.Errorf("save synonyms on %s: %w", i.name, err)
	}
	return nil
}

// document flattens a record into the generic map bleve maps by field name.
func document(rec *record.Record) (map[string]any, error) {
	raw, err := record.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %q: %w", rec.ObjectID, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode record %q: %w", rec.ObjectID, err)
	}
	return doc, nil
}

func upsert[M ~map[string]any](existing, incoming []M) []M {
	out := append([]M{}, existing...)
	for _, doc := range incoming {
		id, _ := doc["objectID"].(string)
		replaced := false
		for n, prev := range out {
			if prevID, _ := prev["objectID"].(string); id != "" && prevID == id {
				out[n] = doc
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, doc)
		}
	}
	return out
}
