// Package algolia adapts the Algolia search client to index.Service. Every
// write waits for its indexing task to finish before returning.
package algolia

import (
	"context"
	"fmt"
	"strings"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/opt"
	"github.com/algolia/algoliasearch-client-go/v3/algolia/search"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsearch-stager/internal/index"
	"github.com/JakeFAU/docsearch-stager/internal/record"
)

// Config captures the Algolia credentials.
type Config struct {
	AppID  string `mapstructure:"app_id"`
	APIKey string `mapstructure:"api_key"`
}

// Service talks to one Algolia application.
type Service struct {
	client *search.Client
	logger *zap.Logger
}

// New creates a Service for the configured application.
func New(cfg Config, logger *zap.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, fmt.Errorf("algolia app id is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("algolia api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client: search.NewClient(cfg.AppID, cfg.APIKey),
		logger: logger.Named("algolia"),
	}, nil
}

// InitIndex returns a handle on the named index.
func (s *Service) InitIndex(name string) index.Index {
	return &Index{name: name, idx: s.client.InitIndex(name), logger: s.logger.With(zap.String("index", name))}
}

// DeleteIndex deletes the named index. Algolia treats a missing index as
// already deleted.
func (s *Service) DeleteIndex(ctx context.Context, name string) error {
	res, err := s.client.InitIndex(name).Delete(ctx)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	if err := res.Wait(ctx); err != nil {
		return fmt.Errorf("wait delete index %s: %w", name, err)
	}
	s.logger.Debug("index deleted", zap.String("index", name))
	return nil
}

// CopyRules copies src's query rules over dst's.
func (s *Service) CopyRules(ctx context.Context, src, dst string) error {
	res, err := s.client.CopyRules(src, dst, ctx)
	if err != nil {
		return fmt.Errorf("copy rules %s to %s: %w", src, dst, err)
	}
	if err := res.Wait(ctx); err != nil {
		return fmt.Errorf("wait copy rules %s to %s: %w", src, dst, err)
	}
	s.logger.Debug("rules copied", zap.String("src", src), zap.String("dst", dst))
	return nil
}

// MoveIndex renames src to dst, replacing dst.
func (s *Service) MoveIndex(ctx context.Context, src, dst string) error {
	res, err := s.client.MoveIndex(src, dst, ctx)
	if err != nil {
		return fmt.Errorf("move index %s to %s: %w", src, dst, err)
	}
	if err := res.Wait(ctx); err != nil {
		return fmt.Errorf("wait move index %s to %s: %w", src, dst, err)
	}
	s.logger.Info("index moved", zap.String("src", src), zap.String("dst", dst))
	return nil
}

// Index is a handle on one Algolia index.
type Index struct {
	name   string
	idx    *search.Index
	logger *zap.Logger
}

// Name returns the index name.
func (i *Index) Name() string { return i.name }

// SetSettings applies settings to the index.
func (i *Index) SetSettings(ctx context.Context, settings index.Settings) error {
	converted, err := toSettings(settings)
	if err != nil {
		return err
	}
	res, err := i.idx.SetSettings(converted, ctx)
	if err != nil {
		return fmt.Errorf("set settings on %s: %w", i.name, err)
	}
	if err := res.Wait(ctx); err != nil {
		return fmt.Errorf("wait set settings on %s: %w", i.name, err)
	}
	return nil
}

// SaveRules saves query rules.
func (i *Index) SaveRules(ctx context.Context, rules []index.Rule, opts index.SaveRulesOptions) error {
	converted, err := toRules(rules)
	if err != nil {
		return err
	}
	res, err := i.idx.SaveRules(converted,
		opt.ForwardToReplicas(opts.ForwardToReplicas),
		opt.ClearExistingRules(opts.ClearExisting),
		ctx,
	)
	if err != nil {
		return fmt.Errorf("save rules on %s: %w", i.name, err)
	}
	if err := res.Wait(ctx); err != nil {
		return fmt.Errorf("wait save rules on %s: %w", i.name, err)
	}
	i.logger.Debug("rules saved", zap.Int("count", len(rules)))
	return nil
}

// SaveObjects upserts records by objectID.
func (i *Index) SaveObjects(ctx context.Context, records []*record.Record) error {
	res, err := i.idx.SaveObjects(records, ctx)
	if err != nil {
		return fmt.Errorf("save objects on %s: %w", i.name, err)
	}
	if err := res.Wait(ctx); err != nil {
		return fmt.Errorf("wait save objects on %s: %w", i.name, err)
	}
	return nil
}

// SaveSynonyms upserts synonyms.
func (i *Index) SaveSynonyms(ctx context.Context, synonyms []index.Synonym) error {
	converted, err := toSynonyms(synonyms)
	if err != nil {
		return err
	}
	res, err := i.idx.SaveSynonyms(converted, ctx)
	if err != nil {
		return fmt.Errorf("save synonyms on %s: %w", i.name, err)
	}
	if err := res.Wait(ctx); err != nil {
		return fmt.Errorf("wait save synonyms on %s: %w", i.name, err)
	}
	return nil
}
