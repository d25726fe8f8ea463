package similarity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/errors"
	"github.com/harunnryd/mihari/internal/event"
	"github.com/harunnryd/mihari/internal/scoring"
	"github.com/harunnryd/mihari/internal/signal"
	"github.com/harunnryd/mihari/internal/snapshot"
)

// fakeStore is an in-memory Store for signature tests.
type fakeStore struct {
	snaps      []snapshot.Snapshot
	events     []event.Event
	signatures map[string]Signature
}

func newFakeStore() *fakeStore {
	return &fakeStore{signatures: map[string]Signature{}}
}

func sigKey(account, project string, window int) string {
	return fmt.Sprintf("%s|%s|%d", account, project, window)
}

func (f *fakeStore) ListSnapshotRange(_ context.Context, _, _, _, _ string) ([]snapshot.Snapshot, error) {
	return f.snaps, nil
}

func (f *fakeStore) ListEventsBetween(_ context.Context, _, _ string, _, _ time.Time) ([]event.Event, error) {
	return f.events, nil
}

func (f *fakeStore) GetSignature(_ context.Context, account, project string, window int) (*Signature, error) {
	if s, ok := f.signatures[sigKey(account, project, window)]; ok {
		return &s, nil
	}
	// Mirrors the sqlite store contract for a missing row.
	return nil, errors.NotFound(fmt.Sprintf("signature %s/%s window %d", account, project, window))
}

func (f *fakeStore) UpsertSignature(_ context.Context, sig Signature) error {
	f.signatures[sigKey(sig.Account, sig.Project, sig.WindowDays)] = sig
	return nil
}

func (f *fakeStore) ListSignatures(_ context.Context, account string, window int) ([]Signature, error) {
	var out []Signature
	for _, s := range f.signatures {
		if s.Account == account && s.WindowDays == window {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) ListOutcomes(_ context.Context, _, _ string) ([]snapshot.Outcome, error) {
	return nil, nil
}

func daySnap(date string, risk float64, eventCount int) snapshot.Snapshot {
	return snapshot.Snapshot{
		Account: "acme", Project: "p1", Date: date,
		Normalized: map[string]float64{
			signal.KeyWaitingOnClientDays: 0.4,
			signal.KeyBlockersAgeDays:     0.2,
		},
		Scores: []scoring.Score{
			{Type: scoring.TypeRisk, Value: risk},
			{Type: scoring.TypeHealth, Value: 100 - risk},
		},
		Aggregates: snapshot.Aggregates{EventCount: eventCount, Pipeline: 50_000, DealStage: "negotiation"},
	}
}

func TestBuildSignature_RejectsMalformedWindow(t *testing.T) {
	e := NewEngine(newFakeStore(), config.SimilarityConfig{})
	_, err := e.BuildSignature(context.Background(), "acme", "p1", 9, now)
	if !errors.IsCategory(err, errors.ErrMalformedWindow) {
		t.Fatalf("err = %v, want malformed window", err)
	}
}

func TestBuildSignature_VectorBigramsContext(t *testing.T) {
	fs := newFakeStore()
	fs.snaps = []snapshot.Snapshot{
		daySnap("2026-03-01", 20, 10),
		daySnap("2026-03-02", 60, 30),
	}
	fs.events = []event.Event{
		{ID: 1, Type: event.TypeTaskCreated, OccurredAt: now},
		{ID: 2, Type: event.TypeTaskBlocked, OccurredAt: now},
		{ID: 3, Type: event.TypeTaskBlocked, OccurredAt: now},
		{ID: 4, Type: event.TypeStageStarted, OccurredAt: now},
	}

	e := NewEngine(fs, config.SimilarityConfig{})
	sig, err := e.BuildSignature(context.Background(), "acme", "p1", 14, now)
	if err != nil {
		t.Fatal(err)
	}

	if len(sig.Vector) != VectorLen {
		t.Fatalf("vector length = %d, want %d", len(sig.Vector), VectorLen)
	}
	for i, v := range sig.Vector {
		if v < 0 || v > 1 {
			t.Fatalf("vector[%d] = %.3f outside [0,1]", i, v)
		}
	}
	if sig.Vector[0] != 0.4 {
		t.Fatalf("waiting slot = %.2f, want window average 0.4", sig.Vector[0])
	}
	// risk went 20 -> 60: delta slot above flat midpoint
	if sig.Vector[10] <= 0.5 {
		t.Fatalf("risk delta slot = %.2f, want > 0.5 for rising risk", sig.Vector[10])
	}

	wantBigrams := []string{
		"task_blocked>stage_started",
		"task_blocked>task_blocked",
		"task_created>task_blocked",
	}
	if len(sig.Bigrams) != len(wantBigrams) {
		t.Fatalf("bigrams = %v, want %v", sig.Bigrams, wantBigrams)
	}
	for i := range wantBigrams {
		if sig.Bigrams[i] != wantBigrams[i] {
			t.Fatalf("bigrams = %v, want %v", sig.Bigrams, wantBigrams)
		}
	}

	if sig.Context.BudgetBucket != "mid" || sig.Context.ProjectType != "delivery" || sig.Context.DealBucket != "closing" {
		t.Fatalf("context = %+v", sig.Context)
	}

	// persisted: rebuild overwrites, not duplicates
	if _, err := e.BuildSignature(context.Background(), "acme", "p1", 14, now); err != nil {
		t.Fatal(err)
	}
	sigs, _ := fs.ListSignatures(context.Background(), "acme", 14)
	if len(sigs) != 1 {
		t.Fatalf("signature rows = %d, want 1 after rebuild", len(sigs))
	}
}

func TestFindSimilarCases_BuildsSourceLazily(t *testing.T) {
	fs := newFakeStore()
	fs.snaps = []snapshot.Snapshot{daySnap("2026-03-02", 40, 5)}
	fs.signatures[sigKey("acme", "other", 30)] = Signature{
		Account: "acme", Project: "other", WindowDays: 30,
		Vector: make([]float64, VectorLen), ComputedAt: now,
	}

	e := NewEngine(fs, config.SimilarityConfig{})
	ranked, err := e.FindSimilarCases(context.Background(), "acme", "p1", now)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fs.signatures[sigKey("acme", "p1", 30)]; !ok {
		t.Fatal("source signature should have been built and persisted lazily")
	}
	if len(ranked) != 1 || ranked[0].Project != "other" {
		t.Fatalf("ranked = %+v, want the one other project", ranked)
	}
}
