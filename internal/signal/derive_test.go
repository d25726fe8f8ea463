package signal

import (
	"testing"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/event"
)

func deriver() *Deriver {
	return NewDeriver(config.SignalsConfig{})
}

func TestDerive_WaitingOnClientDays(t *testing.T) {
	st := NewState()
	since := base
	st.AwaitingClientSince = &since

	got := ByKey(deriver().Derive(st, base.AddDate(0, 0, 4)))
	w := got[KeyWaitingOnClientDays]
	if w.Value < 3.9 || w.Value > 4.1 {
		t.Fatalf("waiting = %.2f, want ~4", w.Value)
	}
	if w.Status != StatusCritical {
		t.Fatalf("status = %s, want critical at >= 4 days", w.Status)
	}
}

func TestDerive_BudgetBurn(t *testing.T) {
	st := NewState()
	st.PlannedBudget = 10000
	st.CostSum = 12500
	st.Evidence[concernFinance] = []event.EvidenceRef{{Kind: "document", SourceTable: "documents", SourcePK: "inv-1"}}

	got := ByKey(deriver().Derive(st, base))
	burn := got[KeyBudgetBurnRate]
	if burn.Value != 1.25 {
		t.Fatalf("burn = %.2f, want 1.25", burn.Value)
	}
	if burn.Status != StatusCritical {
		t.Fatalf("status = %s, want critical", burn.Status)
	}
	if len(burn.Evidence) == 0 {
		t.Fatal("burn signal should carry finance evidence")
	}
}

func TestDerive_SentimentInvertedThreshold(t *testing.T) {
	st := NewState()
	st.SentimentAvg = -0.6
	st.SentimentCount = 3

	got := ByKey(deriver().Derive(st, base))
	if got[KeySentimentTrend].Status != StatusCritical {
		t.Fatalf("status = %s, want critical for sentiment -0.6", got[KeySentimentTrend].Status)
	}

	st.SentimentAvg = 0.4
	got = ByKey(deriver().Derive(st, base))
	if got[KeySentimentTrend].Status != StatusOK {
		t.Fatalf("status = %s, want ok for sentiment 0.4", got[KeySentimentTrend].Status)
	}
}

func TestDerive_ActivityDrop(t *testing.T) {
	st := NewState()
	now := base
	// busy previous week, silent recent week
	for i := 7; i < 14; i++ {
		st.Daily[dayKey(now.AddDate(0, 0, -i))] = 4
	}
	got := ByKey(deriver().Derive(st, now))
	if got[KeyActivityDrop].Value != 1 {
		t.Fatalf("drop = %.2f, want 1", got[KeyActivityDrop].Value)
	}
	if got[KeyActivityDrop].Status != StatusCritical {
		t.Fatalf("status = %s, want critical", got[KeyActivityDrop].Status)
	}
}

func TestDerive_EvidenceCapped(t *testing.T) {
	st := NewState()
	for i := 0; i < 10; i++ {
		st.Evidence[concernBlockers] = append(st.Evidence[concernBlockers],
			event.EvidenceRef{Kind: "issue", SourceTable: "issues", SourcePK: string(rune('a' + i))})
	}
	d := NewDeriver(config.SignalsConfig{MaxEvidencePerSignal: 3})
	got := ByKey(d.Derive(st, base))
	if len(got[KeyBlockersAgeDays].Evidence) != 3 {
		t.Fatalf("evidence = %d, want capped at 3", len(got[KeyBlockersAgeDays].Evidence))
	}
}

func TestDerive_Deterministic(t *testing.T) {
	st := NewState()
	st.CostSum = 500
	st.PlannedBudget = 1000
	st.OpenBlockers["T-1"] = base.AddDate(0, 0, -3)

	a := deriver().Derive(st, base)
	b := deriver().Derive(st, base)
	if len(a) != len(b) {
		t.Fatal("signal count differs across calls")
	}
	for i := range a {
		if a[i].Key != b[i].Key || a[i].Value != b[i].Value || a[i].Status != b[i].Status {
			t.Fatalf("signal %s differs across identical calls", a[i].Key)
		}
	}
}
