package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/config"
	"github.com/lexbook/lexipipe/internal/model"
	"github.com/lexbook/lexipipe/internal/store"
	"github.com/lexbook/lexipipe/pkg/oracle"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// scriptedOracle answers every request with respond, defaulting to a
// well-formed payload echoing the entry.
type scriptedOracle struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	respond func(req oracle.Request) (*oracle.Response, error)
}

func (s *scriptedOracle) Complete(_ context.Context, req oracle.Request) (*oracle.Response, error) {
	s.mu.Lock()
	s.calls++
	s.prompts = append(s.prompts, req.Prompt)
	s.mu.Unlock()

	if s.respond != nil {
		return s.respond(req)
	}
	payload, _ := json.Marshal(map[string]any{
		"corrected":   "corrected text",
		"translation": "translated text",
		"confidence":  0.9,
	})
	return &oracle.Response{Text: string(payload), Usage: oracle.TokenUsage{InputTokens: 100, OutputTokens: 50}}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Oracle: config.OracleConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 1024},
		Executor: config.ExecutorConfig{
			SubBatchSize: 2,
			Concurrency:  3,
			StaggerMS:    1,
			CooldownMS:   1,
			RatePerSec:   10000,
			MaxAttempts:  2,
		},
		Pipeline: config.PipelineConfig{WindowRadius: 1, DedupeChunk: 100},
	}
}

func newTestPipeline(t *testing.T, client oracle.Client, cfg *config.Config) (*Pipeline, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return New(cfg, config.DefaultTuning(), st, client), st
}

func seed(t *testing.T, st store.Store, items ...model.WorkItem) {
	t.Helper()
	require.NoError(t, st.InsertWorkItems(context.Background(), items))
}

func TestRun_HappyPath(t *testing.T) {
	client := &scriptedOracle{}
	p, st := newTestPipeline(t, client, testConfig())
	ctx := context.Background()

	seed(t, st,
		model.WorkItem{ConceptID: 1, SeqNum: 1, SourceText: "Der Hund bellt."},
		model.WorkItem{ConceptID: 1, SeqNum: 2, SourceText: "Die Katze miaut laut."},
		model.WorkItem{ConceptID: 2, SeqNum: 1, SourceText: "Das Wetter ist heute wirklich gut."},
	)

	rc, err := p.Run(ctx, 0)
	require.NoError(t, err)

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[model.StatusCompleted])
	assert.Zero(t, counts[model.StatusPending])
	assert.Zero(t, counts[model.StatusProcessing])

	prog := rc.Progress()
	assert.Equal(t, StateCompleted, prog.Status)
	assert.InDelta(t, 100.0, prog.PercentComplete, 0.001)
	assert.Equal(t, int64(3), prog.Processed)
	assert.Zero(t, prog.Failed)
	assert.NotEmpty(t, prog.Logs)
}

func TestRun_FirstRunDeduplicates(t *testing.T) {
	client := &scriptedOracle{}
	p, st := newTestPipeline(t, client, testConfig())
	ctx := context.Background()

	seed(t, st,
		model.WorkItem{ConceptID: 1, SeqNum: 1, SourceText: "Hog", TargetHint: "farm animal"},
		model.WorkItem{ConceptID: 1, SeqNum: 2, SourceText: "Hog/Pig", TargetHint: "swine"},
		model.WorkItem{ConceptID: 1, SeqNum: 3, SourceText: "Hoggwash"},
	)

	_, err := p.Run(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, client.calls, "near-duplicates cost one oracle call")

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[model.StatusCompleted], "duplicates complete through their primary")

	// The primary's prompt carries the merged duplicate notes.
	merged := false
	for _, prompt := range client.prompts {
		if len(prompt) > 0 && containsAll(prompt, "farm animal", "swine") {
			merged = true
		}
	}
	assert.True(t, merged, "merged notes must reach the oracle")
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		found := false
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestRun_SecondRunSkipsDedupe(t *testing.T) {
	client := &scriptedOracle{}
	p, st := newTestPipeline(t, client, testConfig())
	ctx := context.Background()

	seed(t, st, model.WorkItem{ConceptID: 1, SeqNum: 1, SourceText: "Erster Satz."})
	_, err := p.Run(ctx, 0)
	require.NoError(t, err)

	// With completed items on the ledger, identical new entries are
	// not clustered away.
	seed(t, st,
		model.WorkItem{ConceptID: 2, SeqNum: 1, SourceText: "Zweiter Satz."},
		model.WorkItem{ConceptID: 2, SeqNum: 2, SourceText: "Zweiter Satz."},
	)
	calls := client.calls
	_, err = p.Run(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, calls+2, client.calls)
}

func TestRun_InvalidPayloadFailsItem(t *testing.T) {
	client := &scriptedOracle{
		respond: func(req oracle.Request) (*oracle.Response, error) {
			return &oracle.Response{Text: "{}"}, nil
		},
	}
	p, st := newTestPipeline(t, client, testConfig())
	ctx := context.Background()

	seed(t, st, model.WorkItem{ConceptID: 1, SeqNum: 1, SourceText: "Der Hund bellt."})

	rc, err := p.Run(ctx, 0)
	require.NoError(t, err, "a rejected payload fails the item, not the run")

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StatusError])
	assert.Equal(t, int64(1), rc.Progress().Failed)
}

func TestRun_BudgetLeavesRemainderPending(t *testing.T) {
	client := &scriptedOracle{}
	cfg := testConfig()
	cfg.Executor.CallBudget = 2
	cfg.Executor.SubBatchSize = 1
	p, st := newTestPipeline(t, client, cfg)
	ctx := context.Background()

	items := make([]model.WorkItem, 0, 6)
	for i := 1; i <= 6; i++ {
		items = append(items, model.WorkItem{ConceptID: int64(i), SeqNum: 1, SourceText: fmt.Sprintf("Satz Nummer %d.", i)})
	}
	seed(t, st, items...)

	rc, err := p.Run(ctx, 0)
	require.NoError(t, err, "hitting the budget is a clean stop")

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.StatusCompleted])
	assert.Equal(t, 4, counts[model.StatusPending], "budget remainder returns to pending")
	assert.Zero(t, counts[model.StatusProcessing], "nothing stays claimed after the run")
	assert.Equal(t, int64(4), rc.Progress().Skipped)
}

func TestRun_RecoverStaleAtStart(t *testing.T) {
	client := &scriptedOracle{}
	p, st := newTestPipeline(t, client, testConfig())
	ctx := context.Background()

	seed(t, st,
		model.WorkItem{ConceptID: 1, SeqNum: 1, SourceText: "hängen geblieben", Status: model.StatusProcessing},
		model.WorkItem{ConceptID: 1, SeqNum: 2, SourceText: "vorher gescheitert", Status: model.StatusError},
	)

	_, err := p.Run(ctx, 0)
	require.NoError(t, err)

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.StatusCompleted], "stale items are recovered and enriched")
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	client := &scriptedOracle{}
	p, _ := newTestPipeline(t, client, testConfig())

	p.active.Store(true)
	_, err := p.Run(context.Background(), 0)
	assert.ErrorIs(t, err, ErrRunActive)
	p.active.Store(false)
}

func TestRun_EmptyLedger(t *testing.T) {
	client := &scriptedOracle{}
	p, _ := newTestPipeline(t, client, testConfig())

	rc, err := p.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rc.Progress().Status)
	assert.Zero(t, client.calls)
}

func TestRunContext_ProgressSnapshot(t *testing.T) {
	rc := NewRunContext()
	rc.SetTotal(4)
	rc.AddProcessed(2)
	rc.AddFailed(1)
	rc.Logf("halfway")

	prog := rc.Progress()
	assert.Equal(t, StateRunning, prog.Status)
	assert.InDelta(t, 50.0, prog.PercentComplete, 0.001)
	assert.Equal(t, int64(1), prog.Failed)
	require.Len(t, prog.Logs, 1)
	assert.Contains(t, prog.Logs[0], "halfway")
}

func TestRunContext_LogRingBounded(t *testing.T) {
	rc := NewRunContext()
	for i := 0; i < maxRunLogLines+50; i++ {
		rc.Logf("line %d", i)
	}
	logs := rc.Progress().Logs
	assert.Len(t, logs, maxRunLogLines)
	assert.Contains(t, logs[len(logs)-1], fmt.Sprintf("line %d", maxRunLogLines+49))
}
