// Package pipeline orchestrates one refresh per project: fold events into
// state, derive signals, score, freeze the day, rank similar cases, forecast,
// and generate recommendations. Every stage writes through upserts on stable
// keys so a partially failed run resumes cleanly from committed rows.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/mihari/internal/concurrency"
	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/draft"
	"github.com/harunnryd/mihari/internal/forecast"
	"github.com/harunnryd/mihari/internal/logger"
	"github.com/harunnryd/mihari/internal/recommend"
	"github.com/harunnryd/mihari/internal/scoring"
	"github.com/harunnryd/mihari/internal/signal"
	"github.com/harunnryd/mihari/internal/similarity"
	"github.com/harunnryd/mihari/internal/snapshot"
	"github.com/harunnryd/mihari/internal/store"
)

const processRefresh = "refresh"

type Runner struct {
	store   *store.Store
	deriver *signal.Deriver
	scorer  *scoring.Engine
	builder *snapshot.Builder
	similar *similarity.Engine
	fcaster *forecast.Engine

	recommendCfg config.RecommendConfig
	drafter      draft.Drafter

	locks       *concurrency.KeyedLocks
	maxParallel int
}

func NewRunner(cfg *config.Config, st *store.Store) *Runner {
	maxParallel := cfg.Pipeline.MaxParallelProjects
	if maxParallel <= 0 {
		maxParallel = config.DefaultPipelineMaxParallelProjects
	}
	return &Runner{
		store:        st,
		deriver:      signal.NewDeriver(cfg.Signals),
		scorer:       scoring.NewEngine(cfg.Scoring, cfg.Signals),
		builder:      snapshot.NewBuilder(cfg.Signals),
		similar:      similarity.NewEngine(st, cfg.Similarity),
		fcaster:      forecast.NewEngine(cfg.Forecast, cfg.Signals),
		recommendCfg: cfg.Recommend,
		drafter:      draft.New(cfg.Draft),
		locks:        concurrency.NewKeyedLocks(),
		maxParallel:  maxParallel,
	}
}

// Refresh runs the full pipeline for one project, bracketed by the process
// run log. The project lock keeps two refreshes of the same project from
// interleaving; distinct projects never contend.
func (r *Runner) Refresh(ctx context.Context, account, project string, now time.Time) error {
	release := r.locks.Acquire(account + "/" + project)
	defer release()

	runID := ulid.Make().String()
	ctx = logger.WithRunID(logger.WithProject(ctx, project), runID)
	start := time.Now()
	counters := map[string]int64{}

	r.record(ctx, account, project, runID, store.PhaseStart, nil, "", 0)

	err := r.refresh(ctx, account, project, runID, now, counters)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		r.record(ctx, account, project, runID, store.PhaseFail, counters, err.Error(), elapsed)
		return fmt.Errorf("refresh %s/%s: %w", account, project, err)
	}

	r.record(ctx, account, project, runID, store.PhaseFinish, counters, "", elapsed)
	slog.InfoContext(ctx, "Refresh finished", "account", account, "elapsed_ms", elapsed,
		"events", counters["events_applied"], "recommendations", counters["recommendations"])
	return nil
}

func (r *Runner) refresh(ctx context.Context, account, project, runID string, now time.Time, counters map[string]int64) error {
	// Aggregation: recompute from (priorState, events>cursor) and persist
	// state with the new cursor in one write. A crash before that write
	// discards nothing durable; the fold is pure and reruns from the old
	// cursor are equivalent.
	prior, cursor, err := r.store.GetSignalState(ctx, account, project)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	events, err := r.store.ListEventsAfter(ctx, account, project, cursor)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	state, newCursor, err := signal.Apply(*prior, events, now)
	if err != nil {
		return fmt.Errorf("apply events: %w", err)
	}
	if err := r.store.SaveSignalState(ctx, account, project, &state, newCursor); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	counters["events_applied"] = int64(len(events))

	signals := r.deriver.Derive(state, now)
	if err := r.store.UpsertSignals(ctx, account, project, signals); err != nil {
		return fmt.Errorf("persist signals: %w", err)
	}
	counters["signals"] = int64(len(signals))

	scores := r.scorer.Compute(signals, state, now)
	if err := r.store.UpsertScores(ctx, account, project, scores); err != nil {
		return fmt.Errorf("persist scores: %w", err)
	}
	counters["scores"] = int64(len(scores))

	snap := r.builder.Build(account, project, now, signals, scores, state)
	if err := r.store.UpsertSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	dayStart := now.UTC().Truncate(24 * time.Hour)
	dayEvents, err := r.store.ListEventsBetween(ctx, account, project, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("list day events: %w", err)
	}
	outcomes := r.builder.DeriveOutcomes(snap, dayEvents, now)
	if err := r.store.InsertOutcomes(ctx, outcomes); err != nil {
		return fmt.Errorf("persist outcomes: %w", err)
	}
	counters["outcomes"] = int64(len(outcomes))

	for _, window := range similarity.Windows {
		if _, err := r.similar.BuildSignature(ctx, account, project, window, now); err != nil {
			return fmt.Errorf("build signature window %d: %w", window, err)
		}
		counters["signatures"]++
	}
	similarCases, err := r.similar.FindSimilarCases(ctx, account, project, now)
	if err != nil {
		return fmt.Errorf("rank similar cases: %w", err)
	}
	counters["similar_cases"] = int64(len(similarCases))

	forecasts := r.fcaster.Build(account, project, signals, scores, similarCases, now)
	if err := r.store.UpsertForecasts(ctx, forecasts); err != nil {
		return fmt.Errorf("persist forecasts: %w", err)
	}
	counters["forecasts"] = int64(len(forecasts))
	for _, f := range forecasts {
		if !f.Publishable {
			counters["forecasts_unpublishable"]++
		}
	}
	if n := counters["forecasts_unpublishable"]; n > 0 {
		r.record(ctx, account, project, runID, store.PhaseWarn, map[string]int64{"forecasts_unpublishable": n},
			"forecasts excluded for missing evidence", 0)
	}

	// The draft budget is per run, so the budgeted wrapper and the engine
	// are rebuilt per refresh.
	budgeted := draft.NewBudgeted(r.drafter, r.recommendCfg.DraftBudget)
	engine := recommend.NewEngine(r.recommendCfg, budgeted)
	recs := engine.Generate(ctx, recommend.Input{
		Account:   account,
		Project:   project,
		Signals:   signals,
		Scores:    scores,
		Forecasts: forecasts,
		DealStage: snapshot.DealStageBucket(state.DealStage),
		Now:       now,
	})
	if err := r.store.UpsertRecommendations(ctx, recs); err != nil {
		return fmt.Errorf("persist recommendations: %w", err)
	}
	counters["recommendations"] = int64(len(recs))
	counters["drafts_used"] = int64(budgeted.Used())
	for _, rec := range recs {
		if rec.GateStatus == recommend.GateHidden {
			counters["recommendations_hidden"]++
		}
	}
	if n := counters["recommendations_hidden"]; n > 0 {
		r.record(ctx, account, project, runID, store.PhaseWarn, map[string]int64{"recommendations_hidden": n},
			"recommendations dropped by evidence gate", 0)
	}
	return nil
}

// RefreshAll fans refreshes out across an account's projects with bounded
// parallelism. Per-project failures are logged and counted, not fatal to the
// sweep.
func (r *Runner) RefreshAll(ctx context.Context, account string, now time.Time) error {
	projects, err := r.store.Projects(ctx, account)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	var (
		wg     sync.WaitGroup
		sem    = make(chan struct{}, r.maxParallel)
		mu     sync.Mutex
		failed int
	)
	for _, project := range projects {
		project := project
		sem <- struct{}{}
		wg.Add(1)
		concurrency.SafeGo(func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := r.Refresh(ctx, account, project, now); err != nil {
				slog.Error("Refresh failed", "account", account, "project", project, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}, nil)
	}
	wg.Wait()

	if failed > 0 {
		return fmt.Errorf("refresh sweep: %d of %d projects failed", failed, len(projects))
	}
	return nil
}

func (r *Runner) record(ctx context.Context, account, project, runID, phase string, counters map[string]int64, errMsg string, elapsedMS int64) {
	run := store.ProcessRun{
		Account:    account,
		Project:    project,
		Process:    processRefresh,
		RunID:      runID,
		Phase:      phase,
		Counters:   counters,
		Error:      errMsg,
		ElapsedMS:  elapsedMS,
		RecordedAt: time.Now().UTC(),
	}
	if err := r.store.RecordRun(ctx, run); err != nil {
		slog.ErrorContext(ctx, "Run log write failed", "phase", phase, "error", err)
	}
}
