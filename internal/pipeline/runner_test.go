package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/event"
	"github.com/harunnryd/mihari/internal/forecast"
	"github.com/harunnryd/mihari/internal/recommend"
	"github.com/harunnryd/mihari/internal/signal"
	"github.com/harunnryd/mihari/internal/store"
)

var now = time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)

func newTestRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()
	s, err := store.Open(config.StoreConfig{Path: filepath.Join(t.TempDir(), "mihari.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	// Zero-value config: every engine falls back to its stock defaults and
	// drafting uses the deterministic template.
	return NewRunner(&config.Config{}, s), s
}

func seed(t *testing.T, s *store.Store, project string, typ event.Type, at time.Time, payload string, refs ...event.EvidenceRef) {
	t.Helper()
	_, err := s.AppendEvent(context.Background(), event.Event{
		Account:    "acme",
		Project:    project,
		Type:       typ,
		OccurredAt: at,
		Payload:    json.RawMessage(payload),
		Evidence:   refs,
	})
	require.NoError(t, err)
}

func ref(kind string, pk int64) event.EvidenceRef {
	return event.EvidenceRef{Kind: kind, SourceTable: kind + "s", SourcePK: strconv.FormatInt(pk, 10)}
}

func forecastByType(fcs []forecast.Forecast) map[string]forecast.Forecast {
	m := map[string]forecast.Forecast{}
	for _, f := range fcs {
		m[f.RiskType] = f
	}
	return m
}

func recByCategory(recs []recommend.Recommendation) map[string]recommend.Recommendation {
	m := map[string]recommend.Recommendation{}
	for _, r := range recs {
		m[r.Category] = r
	}
	return m
}

func TestRefreshWaitingOnClientScenario(t *testing.T) {
	r, s := newTestRunner(t)
	ctx := context.Background()

	// An approval request went out four days ago and the client never
	// responded.
	seed(t, s, "proj-1", event.TypeStageStarted, now.Add(-96*time.Hour),
		`{"stage":"design","approval_pending":true}`, ref("message", 11))

	require.NoError(t, r.Refresh(ctx, "acme", "proj-1", now))

	signals, err := s.ListSignals(ctx, "acme", "proj-1")
	require.NoError(t, err)
	waiting := signal.ByKey(signals)[signal.KeyWaitingOnClientDays]
	assert.GreaterOrEqual(t, waiting.Value, 2.0)

	fcs, err := s.ListForecasts(ctx, "acme", "proj-1", true)
	require.NoError(t, err)
	client := forecastByType(fcs)[forecast.RiskClient]
	assert.GreaterOrEqual(t, client.Probability7d, 0.45)
	assert.True(t, client.Publishable)

	recs, err := s.ListRecommendations(ctx, "acme", "proj-1", false)
	require.NoError(t, err)
	rec, ok := recByCategory(recs)[recommend.CategoryWaitingOnClient]
	require.True(t, ok, "expected a waiting_on_client recommendation")
	assert.NotZero(t, rec.EvidenceCount)
	assert.Equal(t, recommend.StatusNew, rec.Status)
}

func TestRefreshScopeCreepScenario(t *testing.T) {
	r, s := newTestRunner(t)
	ctx := context.Background()

	seed(t, s, "proj-1", event.TypeScopeChangeRequested, now.Add(-72*time.Hour),
		`{"description":"extra landing page"}`, ref("document", 1))
	seed(t, s, "proj-1", event.TypeScopeChangeRequested, now.Add(-24*time.Hour),
		`{"description":"new integrations"}`, ref("document", 2))

	require.NoError(t, r.Refresh(ctx, "acme", "proj-1", now))

	recs, err := s.ListRecommendations(ctx, "acme", "proj-1", false)
	require.NoError(t, err)
	_, ok := recByCategory(recs)[recommend.CategoryScopeCreep]
	assert.True(t, ok, "two scope changes within a week should recommend a change request")
}

func TestRefreshDeliveryRiskScenario(t *testing.T) {
	r, s := newTestRunner(t)
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		seed(t, s, "proj-1", event.TypeTaskBlocked, now.Add(-24*time.Hour),
			`{"task_id":"t`+string(rune('0'+i))+`"}`, ref("issue", i))
	}

	require.NoError(t, r.Refresh(ctx, "acme", "proj-1", now))

	fcs, err := s.ListForecasts(ctx, "acme", "proj-1", true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, forecastByType(fcs)[forecast.RiskDelivery].Probability7d, 0.45)

	recs, err := s.ListRecommendations(ctx, "acme", "proj-1", false)
	require.NoError(t, err)
	_, ok := recByCategory(recs)[recommend.CategoryDeliveryRisk]
	assert.True(t, ok)
}

func TestRefreshFinanceRiskScenario(t *testing.T) {
	r, s := newTestRunner(t)
	ctx := context.Background()

	seed(t, s, "proj-1", event.TypeFinanceEntryCreated, now.Add(-24*time.Hour),
		`{"kind":"cost","amount":125,"planned_budget":100}`, ref("finance_entry", 9))

	require.NoError(t, r.Refresh(ctx, "acme", "proj-1", now))

	signals, err := s.ListSignals(ctx, "acme", "proj-1")
	require.NoError(t, err)
	burn := signal.ByKey(signals)[signal.KeyBudgetBurnRate]
	assert.InDelta(t, 1.25, burn.Value, 1e-9)
	assert.Equal(t, signal.StatusCritical, burn.Status)

	recs, err := s.ListRecommendations(ctx, "acme", "proj-1", false)
	require.NoError(t, err)
	_, ok := recByCategory(recs)[recommend.CategoryFinanceRisk]
	assert.True(t, ok)

	outcomes, err := s.ListOutcomes(ctx, "acme", "proj-1")
	require.NoError(t, err)
	assert.NotEmpty(t, outcomes, "a 1.25x burn is a materialized finance risk")
}

func TestRefreshIsIdempotent(t *testing.T) {
	r, s := newTestRunner(t)
	ctx := context.Background()

	seed(t, s, "proj-1", event.TypeStageStarted, now.Add(-96*time.Hour),
		`{"stage":"design","approval_pending":true}`, ref("message", 11))

	require.NoError(t, r.Refresh(ctx, "acme", "proj-1", now))
	first, err := s.ListRecommendations(ctx, "acme", "proj-1", true)
	require.NoError(t, err)

	require.NoError(t, r.Refresh(ctx, "acme", "proj-1", now))

	snaps, err := s.ListSnapshotRange(ctx, "acme", "proj-1", "2026-03-06", "2026-03-06")
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "recomputing a day overwrites its snapshot row")

	second, err := s.ListRecommendations(ctx, "acme", "proj-1", true)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].DedupeKey, second[i].DedupeKey)
	}
}

func TestRefreshKeepsTerminalStatus(t *testing.T) {
	r, s := newTestRunner(t)
	ctx := context.Background()

	seed(t, s, "proj-1", event.TypeStageStarted, now.Add(-96*time.Hour),
		`{"stage":"design","approval_pending":true}`, ref("message", 11))

	require.NoError(t, r.Refresh(ctx, "acme", "proj-1", now))
	recs, err := s.ListRecommendations(ctx, "acme", "proj-1", false)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	require.NoError(t, s.UpdateRecommendationStatus(ctx, recs[0].DedupeKey, recommend.StatusDismissed))

	require.NoError(t, r.Refresh(ctx, "acme", "proj-1", now))

	after, err := s.ListRecommendations(ctx, "acme", "proj-1", true)
	require.NoError(t, err)
	for _, rec := range after {
		if rec.DedupeKey == recs[0].DedupeKey {
			assert.Equal(t, recommend.StatusDismissed, rec.Status)
		}
	}
}

func TestRefreshRecordsRunLifecycle(t *testing.T) {
	r, s := newTestRunner(t)
	ctx := context.Background()

	seed(t, s, "proj-1", event.TypeMessageSent, now.Add(-time.Hour),
		`{"direction":"inbound","sentiment":0.2}`, ref("message", 1))

	require.NoError(t, r.Refresh(ctx, "acme", "proj-1", now))

	// One refresh leaves exactly one start and one finish for its run id.
	runs, err := s.RunsForProject(ctx, "proj-1")
	require.NoError(t, err)
	phases := map[string]int{}
	for _, run := range runs {
		phases[run.Phase]++
	}
	assert.Equal(t, 1, phases[store.PhaseStart])
	assert.Equal(t, 1, phases[store.PhaseFinish])
	assert.Zero(t, phases[store.PhaseFail])
	for _, run := range runs {
		if run.Phase == store.PhaseFinish {
			assert.EqualValues(t, 1, run.Counters["events_applied"])
		}
	}
}

func TestRefreshAllSweepsProjects(t *testing.T) {
	r, s := newTestRunner(t)
	ctx := context.Background()

	seed(t, s, "proj-1", event.TypeMessageSent, now.Add(-time.Hour), `{"direction":"inbound"}`)
	seed(t, s, "proj-2", event.TypeTaskBlocked, now.Add(-time.Hour), `{"task_id":"t1"}`)

	require.NoError(t, r.RefreshAll(ctx, "acme", now))

	for _, project := range []string{"proj-1", "proj-2"} {
		signals, err := s.ListSignals(ctx, "acme", project)
		require.NoError(t, err)
		assert.NotEmpty(t, signals, project)
	}
}
