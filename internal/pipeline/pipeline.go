// Package pipeline orchestrates an enrichment run: stale-job recovery,
// first-run deduplication, context assembly, rate-limited dispatch to
// the oracle, and validated persistence.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/assemble"
	"github.com/lexbook/lexipipe/internal/config"
	"github.com/lexbook/lexipipe/internal/dedupe"
	"github.com/lexbook/lexipipe/internal/executor"
	"github.com/lexbook/lexipipe/internal/model"
	"github.com/lexbook/lexipipe/internal/persist"
	"github.com/lexbook/lexipipe/internal/resilience"
	"github.com/lexbook/lexipipe/internal/resolve"
	"github.com/lexbook/lexipipe/internal/store"
	"github.com/lexbook/lexipipe/pkg/oracle"
)

// ErrRunActive is returned when a run is requested while one is in
// flight.
var ErrRunActive = eris.New("pipeline: a run is already active")

// Pipeline wires the run phases together. One Pipeline serves many
// sequential runs; concurrent runs are rejected.
type Pipeline struct {
	cfg    *config.Config
	tuning *config.Tuning
	store  store.Store
	client oracle.Client

	assembler *assemble.Assembler
	persister *persist.Persister
	deduper   *dedupe.Engine

	active  atomic.Bool
	current atomic.Pointer[RunContext]
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, tuning *config.Tuning, st store.Store, client oracle.Client) *Pipeline {
	resolver := resolve.NewWithSuffixes(st, tuning.Resolve.Suffixes)
	return &Pipeline{
		cfg:       cfg,
		tuning:    tuning,
		store:     st,
		client:    client,
		assembler: assemble.New(st, cfg.Pipeline.WindowRadius),
		persister: persist.New(st, resolver),
		deduper: dedupe.New(dedupe.Config{
			KeyThreshold:   tuning.Dedupe.KeyThreshold,
			NotesThreshold: tuning.Dedupe.NotesThreshold,
		}),
	}
}

// Current returns the most recent run's context, or nil before the
// first run.
func (p *Pipeline) Current() *RunContext {
	return p.current.Load()
}

// Active reports whether a run is in flight.
func (p *Pipeline) Active() bool {
	return p.active.Load()
}

// Run executes one enrichment run over at most limit pending items
// (limit <= 0 means all). Only one run may be active at a time.
func (p *Pipeline) Run(ctx context.Context, limit int) (*RunContext, error) {
	if !p.active.CompareAndSwap(false, true) {
		return nil, ErrRunActive
	}
	defer p.active.Store(false)

	rc := NewRunContext()
	p.current.Store(rc)

	err := p.run(ctx, rc, limit)
	rc.Finish(err)
	return rc, err
}

func (p *Pipeline) run(ctx context.Context, rc *RunContext, limit int) error {
	log := zap.L().With(zap.String("run_id", rc.ID))
	log.Info("pipeline: starting run", zap.Int("limit", limit))

	// Recover anything a crashed or budget-stopped run left behind.
	recovered, err := p.store.ResetStale(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: reset stale")
	}
	if recovered > 0 {
		rc.Logf("recovered %d stale items", recovered)
		log.Info("pipeline: recovered stale items", zap.Int64("count", recovered))
	}

	counts, err := p.store.CountByStatus(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: count by status")
	}
	firstRun := counts[model.StatusCompleted] == 0

	items, err := p.store.SelectPending(ctx, limit)
	if err != nil {
		return eris.Wrap(err, "pipeline: select pending")
	}
	if len(items) == 0 {
		rc.Logf("nothing to do")
		log.Info("pipeline: no pending items")
		return nil
	}

	// First run only: cluster near-duplicates so the oracle is paid
	// once per cluster. Later runs work on an already-deduplicated
	// ledger.
	primaries := items
	clusters := map[int64]model.Cluster{}
	if firstRun {
		primaries, clusters = p.clusterItems(items)
		if dropped := len(items) - len(primaries); dropped > 0 {
			rc.Logf("clustered %d items into %d enrichment units", len(items), len(primaries))
			log.Info("pipeline: deduplicated first-run input",
				zap.Int("items", len(items)), zap.Int("primaries", len(primaries)))
		}
	}
	rc.SetTotal(len(primaries))

	ids := make([]int64, 0, len(primaries))
	for _, it := range primaries {
		ids = append(ids, it.ID)
	}
	if err := p.store.MarkProcessing(ctx, ids); err != nil {
		return eris.Wrap(err, "pipeline: mark processing")
	}

	contexts, err := p.assembler.Batch(ctx, primaries)
	if err != nil {
		return eris.Wrap(err, "pipeline: assemble context")
	}

	tasks := make([]executor.Task, 0, len(contexts))
	for _, ic := range contexts {
		tasks = append(tasks, executor.Task{
			Item: ic.Item,
			Request: oracle.Request{
				Model:     p.cfg.Oracle.Model,
				MaxTokens: int64(p.cfg.Oracle.MaxTokens),
				System:    systemPrompt,
				Prompt:    buildPrompt(ic, clusters[ic.Item.ID].MergedNotes),
			},
		})
	}

	exec := executor.New(p.client, executor.Config{
		SubBatchSize: p.cfg.Executor.SubBatchSize,
		Concurrency:  p.cfg.Executor.Concurrency,
		Stagger:      time.Duration(p.cfg.Executor.StaggerMS) * time.Millisecond,
		Cooldown:     time.Duration(p.cfg.Executor.CooldownMS) * time.Millisecond,
		CallBudget:   p.cfg.Executor.CallBudget,
		RatePerSec:   p.cfg.Executor.RatePerSec,
		Retry:        resilience.Policy{MaxAttempts: p.cfg.Executor.MaxAttempts},
	})
	exec.OnSample = func(req oracle.Request, resp *oracle.Response) {
		log.Debug("pipeline: first oracle exchange",
			zap.String("prompt", req.Prompt),
			zap.String("response", resp.Text))
	}

	results, skipped, execErr := exec.Run(ctx, tasks)
	rc.SetSkipped(skipped)

	// Anything dispatched gets a terminal state; anything the budget
	// cut goes straight back to pending.
	dispatched := make(map[int64]bool, len(results))
	for _, r := range results {
		dispatched[r.Item.ID] = true
	}
	var unDispatched []int64
	for _, it := range primaries {
		if !dispatched[it.ID] {
			unDispatched = append(unDispatched, it.ID)
		}
	}
	if err := p.store.MarkPending(ctx, unDispatched); err != nil {
		return eris.Wrap(err, "pipeline: return skipped items to pending")
	}
	if skipped > 0 {
		rc.Logf("call budget reached, %d items left for the next run", skipped)
	}

	for _, r := range results {
		if r.Err != nil {
			rc.AddFailed(1)
			rc.Fail(r.Err)
			rc.Logf("item %d failed: %v", r.Item.ID, r.Err)
			if err := p.store.MarkError(ctx, r.Item.ID, r.Err.Error()); err != nil {
				return eris.Wrapf(err, "pipeline: mark error for item %d", r.Item.ID)
			}
			rc.AddProcessed(1)
			continue
		}

		ok, err := p.persister.Persist(ctx, r.Item, r.Response.Text)
		if err != nil {
			return eris.Wrapf(err, "pipeline: persist item %d", r.Item.ID)
		}
		if !ok {
			rc.AddFailed(1)
		} else if err := p.completeDuplicates(ctx, clusters[r.Item.ID]); err != nil {
			return err
		}
		rc.AddProcessed(1)
	}

	usage := exec.Usage()
	usage.LogCost(p.cfg.Oracle.Model, "enrich")
	rc.Logf("run finished: %d processed, %d failed, %d calls",
		len(results), rc.failed.Load(), exec.Calls())
	log.Info("pipeline: run finished",
		zap.Int("processed", len(results)),
		zap.Int64("failed", rc.failed.Load()),
		zap.Int64("oracle_calls", exec.Calls()),
		zap.Int("skipped", skipped))

	return execErr
}

// clusterItems runs first-run deduplication, chunked so clustering
// stays batch-local. Returns the primary items to dispatch and a map
// from primary id to its cluster.
func (p *Pipeline) clusterItems(items []model.WorkItem) ([]model.WorkItem, map[int64]model.Cluster) {
	chunkSize := p.cfg.Pipeline.DedupeChunk
	if chunkSize <= 0 {
		chunkSize = 200
	}

	byID := make(map[int64]model.WorkItem, len(items))
	records := make([]model.RawRecord, 0, len(items))
	for _, it := range items {
		byID[it.ID] = it
		records = append(records, model.RawRecord{ID: it.ID, Key: it.SourceText, Notes: it.TargetHint})
	}

	var primaries []model.WorkItem
	clusters := make(map[int64]model.Cluster)
	for start := 0; start < len(records); start += chunkSize {
		end := min(start+chunkSize, len(records))
		for _, c := range p.deduper.Cluster(records[start:end]) {
			primaries = append(primaries, byID[c.Primary.ID])
			if len(c.Duplicates) > 0 {
				clusters[c.Primary.ID] = c
			}
		}
	}
	return primaries, clusters
}

// completeDuplicates closes out the duplicates that were enriched
// through their cluster primary.
func (p *Pipeline) completeDuplicates(ctx context.Context, c model.Cluster) error {
	for _, d := range c.Duplicates {
		if err := p.store.MarkCompleted(ctx, d.ID); err != nil {
			return eris.Wrapf(err, "pipeline: complete duplicate %d", d.ID)
		}
	}
	return nil
}
