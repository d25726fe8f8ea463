// Package draft renders the plain-text payload attached to a recommendation.
// A model-backed drafter is optional and budgeted per run; the deterministic
// template fallback always works and is what tests rely on.
package draft

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/errors"
)

// Request names the template and carries its variables.
type Request struct {
	Key       string
	Project   string
	Variables map[string]string
}

type Drafter interface {
	Draft(ctx context.Context, req Request) (string, error)
	Name() string
}

// New builds the configured drafter. Unknown providers fall back to the
// template drafter rather than failing startup.
func New(cfg config.DraftConfig) Drafter {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropic(cfg.APIKey, cfg.Model)
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "gemini":
		if p, err := NewGemini(cfg.APIKey, cfg.Model); err == nil {
			return p
		}
		return NewTemplate()
	}
	return NewTemplate()
}

// Template is the deterministic fallback drafter.
type Template struct{}

func NewTemplate() *Template { return &Template{} }

func (t *Template) Name() string { return "template" }

var templates = map[string]string{
	"waiting_on_client":           "Project {{project}} has been waiting on the client for {{waiting_days}} days. Suggested next step: send a short follow-up referencing the pending approval.",
	"scope_creep_change_request":  "Project {{project}} received {{scope_changes}} scope change requests within a week. Suggested next step: prepare a change request with revised estimate before accepting more work.",
	"delivery_risk":               "Project {{project}} shows {{open_blockers}} open blockers (oldest {{blockers_age}} days). Suggested next step: run a blocker triage with the delivery owner.",
	"finance_risk":                "Project {{project}} has spent {{burn_rate}} of its planned budget. Suggested next step: review cost entries and align the budget with the client.",
	"upsell_opportunity":          "Project {{project}} shows {{needs_open}} unaddressed client needs with positive sentiment. Suggested next step: prepare a tailored offer.",
	"winback":                     "Project {{project}} went quiet and its deal moved to {{deal_stage}}. Suggested next step: schedule a win-back call with the decision maker.",
}

// Draft renders the template for req.Key. Variables are substituted in sorted
// order so output is stable regardless of map iteration.
func (t *Template) Draft(_ context.Context, req Request) (string, error) {
	tpl, ok := templates[req.Key]
	if !ok {
		return "", errors.NotFound("template " + req.Key)
	}
	out := strings.ReplaceAll(tpl, "{{project}}", req.Project)
	for _, k := range sortedVarKeys(req.Variables) {
		out = strings.ReplaceAll(out, "{{"+k+"}}", req.Variables[k])
	}
	return out, nil
}

func sortedVarKeys(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Budgeted caps model-backed draft calls per run. Calls beyond the budget
// fail with ErrDraftBudget so the caller can fall back to templates.
type Budgeted struct {
	inner  Drafter
	budget int

	mu   sync.Mutex
	used int
}

func NewBudgeted(inner Drafter, budget int) *Budgeted {
	if budget <= 0 {
		budget = config.DefaultRecommendDraftBudget
	}
	return &Budgeted{inner: inner, budget: budget}
}

func (b *Budgeted) Name() string { return b.inner.Name() }

func (b *Budgeted) Draft(ctx context.Context, req Request) (string, error) {
	b.mu.Lock()
	if b.used >= b.budget {
		b.mu.Unlock()
		return "", fmt.Errorf("draft %s: %w", req.Key, errors.ErrDraftBudget)
	}
	b.used++
	b.mu.Unlock()
	return b.inner.Draft(ctx, req)
}

// Used reports consumed budget, for run counters.
func (b *Budgeted) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// prompt builds the instruction sent to model-backed drafters.
func prompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("Write a short, plain-text action draft (3 sentences max) for an account manager.\n")
	sb.WriteString("Topic: " + req.Key + "\nProject: " + req.Project + "\n")
	for _, k := range sortedVarKeys(req.Variables) {
		sb.WriteString(k + ": " + req.Variables[k] + "\n")
	}
	sb.WriteString("No markdown, no greeting, no signature.")
	return sb.String()
}
