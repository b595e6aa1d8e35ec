// Package staging owns the lifecycle of a staging run: it prepares the
// temporary index from the live one, feeds it page records and synonyms, and
// finally moves it over the live index in one operation.
//
// A run is Initialized after construction, Populating once records arrive and
// Promoted after Commit. Any failed write moves it to Failed, after which
// Commit is refused and the live index is never touched.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docsearch-stager/internal/batch"
	"github.com/JakeFAU/docsearch-stager/internal/clock/system"
	"github.com/JakeFAU/docsearch-stager/internal/index"
	"github.com/JakeFAU/docsearch-stager/internal/metrics"
	"github.com/JakeFAU/docsearch-stager/internal/record"
	"github.com/JakeFAU/docsearch-stager/internal/rules"
	"github.com/JakeFAU/docsearch-stager/internal/sizing"
	"github.com/JakeFAU/docsearch-stager/internal/stager"
	"github.com/JakeFAU/docsearch-stager/internal/transform"
)

var (
	// ErrRunFailed is returned for any operation after a write has failed.
	ErrRunFailed = errors.New("staging run failed")
	// ErrAlreadyPromoted is returned for any write or commit after promotion.
	ErrAlreadyPromoted = errors.New("staging index already promoted")
	// ErrNotInitialized is returned by a Coordinator not built with New.
	ErrNotInitialized = errors.New("staging coordinator not initialized")
)

// Deps are the collaborators of a Coordinator. Service is required.
type Deps struct {
	Service   index.Service
	Rules     rules.Rules
	Ledger    stager.RunLedger
	Publisher stager.Publisher
	Sinks     []batch.Sink
	// Echo receives every chunk as indented JSON when Rules.ShowRecords is set.
	Echo   io.Writer
	Clock  stager.Clock
	IDs    stager.IDGenerator
	Logger *zap.Logger
}

// Options describe the run.
type Options struct {
	LiveIndex    string
	StagingIndex string
	Settings     index.Settings
	QueryRules   []index.Rule
	ChunkSize    int
	// RunID identifies the run; when empty one is taken from Deps.IDs.
	RunID string
	// Topic receives a PromotionEvent after Commit when a Publisher is set.
	Topic string
}

// Coordinator drives one staging run. Its methods are safe to call from
// several goroutines but a run has a single writer; ordering of writes before
// Commit is up to the caller.
type Coordinator struct {
	mu sync.Mutex

	live        index.Index
	staging     index.Index
	service     index.Service
	transformer *transform.Transformer
	partitioner *sizing.Partitioner
	uploader    *batch.Uploader
	ledger      stager.RunLedger
	publisher   stager.Publisher
	topic       string
	clock       stager.Clock
	logger      *zap.Logger

	run stager.Run
}

// New prepares the staging index: it deletes whatever a previous run left
// under the staging name, copies the live index's query rules,
// applies settings, and saves the supplied query rules replacing any
// existing ones. A failure in any step is returned and the run is recorded as
// failed.
func New(ctx context.Context, deps Deps, opts Options) (*Coordinator, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("index service is required")
	}
	if opts.LiveIndex == "" {
		return nil, fmt.Errorf("live index name is required")
	}
	if opts.StagingIndex == "" {
		opts.StagingIndex = opts.LiveIndex + "_tmp"
	}
	if opts.StagingIndex == opts.LiveIndex {
		return nil, fmt.Errorf("staging index must differ from live index %q", opts.LiveIndex)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}

	runID := opts.RunID
	if runID == "" && deps.IDs != nil {
		id, err := deps.IDs.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
		runID = id
	}
	logger := deps.Logger.Named("staging").With(
		zap.String("run_id", runID),
		zap.String("index", opts.LiveIndex),
		zap.String("staging_index", opts.StagingIndex),
	)

	sinks := slices.Clone(deps.Sinks)
	if deps.Rules.ShowRecords && deps.Echo != nil {
		sinks = append(sinks, batch.NewWriterSink(deps.Echo))
	}
	staging := deps.Service.InitIndex(opts.StagingIndex)
	uploader, err := batch.New(staging, batch.Options{ChunkSize: opts.ChunkSize, Sinks: sinks}, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("create uploader: %w", err)
	}

	now := deps.Clock.Now()
	c := &Coordinator{
		live:        deps.Service.InitIndex(opts.LiveIndex),
		staging:     staging,
		service:     deps.Service,
		transformer: transform.New(deps.Rules),
		partitioner: sizing.New(deps.Rules.MaxBytesPerRecord, deps.Logger),
		uploader:    uploader,
		ledger:      deps.Ledger,
		publisher:   deps.Publisher,
		topic:       opts.Topic,
		clock:       deps.Clock,
		logger:      logger,
		run: stager.Run{
			ID:           runID,
			LiveIndex:    opts.LiveIndex,
			StagingIndex: opts.StagingIndex,
			State:        stager.RunStateInitialized,
			Started:      now,
			Updated:      now,
		},
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.prepare(ctx, opts); err != nil {
		return nil, c.fail(ctx, err)
	}
	c.save(ctx)
	logger.Info("staging index initialized", zap.Int("query_rules", len(opts.QueryRules)))
	return c, nil
}

func (c *Coordinator) prepare(ctx context.Context, opts Options) error {
	// A failed earlier run can leave objects and synonyms behind.
	if err := c.service.DeleteIndex(ctx, c.staging.Name()); err != nil {
		return fmt.Errorf("reset staging index: %w", err)
	}
	if err := c.service.CopyRules(ctx, c.live.Name(), c.staging.Name()); err != nil {
		return fmt.Errorf("copy rules: %w", err)
	}
	if err := c.staging.SetSettings(ctx, opts.Settings); err != nil {
		return fmt.Errorf("apply settings: %w", err)
	}
	if len(opts.QueryRules) > 0 {
		err := c.staging.SaveRules(ctx, opts.QueryRules, index.SaveRulesOptions{
			ForwardToReplicas: true,
			ClearExisting:     true,
		})
		if err != nil {
			return fmt.Errorf("save rules: %w", err)
		}
	}
	return nil
}

// AddRecords transforms, filters and uploads one page's records.
func (c *Coordinator) AddRecords(ctx context.Context, pageURL string, records []*record.Record, fromSitemap bool) error {
	if c == nil || c.staging == nil {
		return ErrNotInitialized
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writable(); err != nil {
		return err
	}

	received := len(records)
	pageURL, records, err := c.transformer.PostProcess(pageURL, records)
	if err != nil {
		return c.fail(ctx, err)
	}
	split, err := c.partitioner.Split(pageURL, records)
	if err != nil {
		return c.fail(ctx, err)
	}
	chunks, err := c.uploader.Publish(ctx, pageURL, split.Accepted)
	c.run.Counters.Batches += chunks
	if err != nil {
		return c.fail(ctx, err)
	}

	c.run.State = stager.RunStatePopulating
	c.run.Counters.Pages++
	c.run.Counters.RecordsReceived += received
	c.run.Counters.RecordsAccepted += len(split.Accepted)
	c.run.Counters.RecordsOversized += len(split.Oversized)
	c.run.Updated = c.clock.Now()
	metrics.ObservePage()
	c.save(ctx)

	c.logger.Info("page staged",
		zap.String("url", pageURL),
		zap.Int("records", received),
		zap.Int("accepted", len(split.Accepted)),
		zap.Bool("from_sitemap", fromSitemap),
	)
	return nil
}

// AddSynonyms uploads the synonym set as one write. Keys identify synonyms;
// an entry without an objectID takes its key.
func (c *Coordinator) AddSynonyms(ctx context.Context, synonyms map[string]index.Synonym) error {
	if c == nil || c.staging == nil {
		return ErrNotInitialized
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writable(); err != nil {
		return err
	}
	if len(synonyms) == 0 {
		return nil
	}

	keys := slices.Sorted(maps.Keys(synonyms))
	upload := make([]index.Synonym, 0, len(keys))
	for _, key := range keys {
		syn := maps.Clone(synonyms[key])
		if syn == nil {
			syn = index.Synonym{}
		}
		if syn.ObjectID() == "" {
			syn["objectID"] = key
		}
		upload = append(upload, syn)
	}

	if err := c.staging.SaveSynonyms(ctx, upload); err != nil {
		return c.fail(ctx, fmt.Errorf("save synonyms: %w", err))
	}
	c.run.State = stager.RunStatePopulating
	c.run.Counters.Synonyms += len(upload)
	c.run.Updated = c.clock.Now()
	metrics.ObserveSynonyms(len(upload))
	c.save(ctx)
	c.logger.Info("synonyms uploaded", zap.Int("count", len(upload)))
	return nil
}

// Commit moves the staging index over the live index. It runs at most once
// per run and is refused after any failure.
func (c *Coordinator) Commit(ctx context.Context) error {
	if c == nil || c.staging == nil {
		return ErrNotInitialized
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return c.fail(ctx, fmt.Errorf("commit: %w", err))
	}

	if err := c.service.MoveIndex(ctx, c.staging.Name(), c.live.Name()); err != nil {
		metrics.ObservePromotion(false)
		return c.fail(ctx, fmt.Errorf("promote staging index: %w", err))
	}
	metrics.ObservePromotion(true)

	now := c.clock.Now()
	c.run.State = stager.RunStatePromoted
	c.run.Updated = now
	c.run.Finished = &now
	c.save(ctx)
	c.notify(ctx, now)
	c.logger.Info("staging index promoted",
		zap.Int("pages", c.run.Counters.Pages),
		zap.Int("records", c.run.Counters.RecordsAccepted),
	)
	return nil
}

// Abort marks the run failed without touching the live index. Aborting a
// finished run is a no-op.
func (c *Coordinator) Abort(ctx context.Context, cause error) {
	if c == nil || c.staging == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run.State.Terminal() {
		return
	}
	if cause == nil {
		cause = errors.New("aborted")
	}
	_ = c.fail(ctx, cause)
}

// Snapshot returns a copy of the run's current metadata.
func (c *Coordinator) Snapshot() stager.Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	run := c.run
	if run.Finished != nil {
		finished := *run.Finished
		run.Finished = &finished
	}
	return run
}

func (c *Coordinator) writable() error {
	switch c.run.State {
	case stager.RunStateFailed:
		return ErrRunFailed
	case stager.RunStatePromoted:
		return ErrAlreadyPromoted
	default:
		return nil
	}
}

// fail records err on the run and returns it wrapped with ErrRunFailed.
// Callers hold c.mu.
func (c *Coordinator) fail(ctx context.Context, err error) error {
	now := c.clock.Now()
	c.run.State = stager.RunStateFailed
	c.run.ErrorText = err.Error()
	c.run.Updated = now
	c.run.Finished = &now
	c.save(ctx)
	c.logger.Error("staging run failed", zap.Error(err))
	return fmt.Errorf("%w: %w", ErrRunFailed, err)
}

// save writes the run to the ledger. Ledger errors are logged, not returned.
func (c *Coordinator) save(ctx context.Context) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.SaveRun(context.WithoutCancel(ctx), c.run); err != nil {
		c.logger.Warn("failed to save run", zap.Error(err))
	}
}

func (c *Coordinator) notify(ctx context.Context, promotedAt time.Time) {
	if c.publisher == nil || c.topic == "" {
		return
	}
	event := stager.PromotionEvent{
		RunID:        c.run.ID,
		LiveIndex:    c.run.LiveIndex,
		StagingIndex: c.run.StagingIndex,
		PromotedAt:   promotedAt,
		Counters:     c.run.Counters,
	}
	id, err := c.publisher.Publish(context.WithoutCancel(ctx), c.topic, event)
	if err != nil {
		c.logger.Warn("failed to publish promotion event", zap.Error(err))
		return
	}
	c.logger.Debug("promotion event published", zap.String("message_id", id))
}
