package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Log        LogConfig        `koanf:"log"`
	Store      StoreConfig      `koanf:"store"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Signals    SignalsConfig    `koanf:"signals"`
	Scoring    ScoringConfig    `koanf:"scoring"`
	Similarity SimilarityConfig `koanf:"similarity"`
	Forecast   ForecastConfig   `koanf:"forecast"`
	Recommend  RecommendConfig  `koanf:"recommend"`
	Draft      DraftConfig      `koanf:"draft"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type StoreConfig struct {
	Path        string `koanf:"path"`
	BusyTimeout string `koanf:"busy_timeout"`
}

type SchedulerConfig struct {
	Schedule         string `koanf:"schedule"`
	TickInterval     string `koanf:"tick_interval"`
	ShutdownTimeout  string `koanf:"shutdown_timeout"`
	LockPath         string `koanf:"lock_path"`
	AbandonedCutoff  string `koanf:"abandoned_cutoff"`
	MaxCatchupRuns   int    `koanf:"max_catchup_runs"`
}

type PipelineConfig struct {
	MaxParallelProjects int `koanf:"max_parallel_projects"`
}

// Threshold classifies a signal value: warn at or above Warn, critical at or
// above Critical. Inverted signals (sentiment) compare downward instead.
type Threshold struct {
	Warn     float64 `koanf:"warn"`
	Critical float64 `koanf:"critical"`
	Inverted bool    `koanf:"inverted"`
}

type SignalsConfig struct {
	MaxEvidencePerSignal int                  `koanf:"max_evidence_per_signal"`
	Thresholds           map[string]Threshold `koanf:"thresholds"`
}

type ScoringConfig struct {
	RiskWeights   map[string]float64 `koanf:"risk_weights"`
	HealthWeights map[string]float64 `koanf:"health_weights"`
	UpsellWeights map[string]float64 `koanf:"upsell_weights"`
	WarnLevel     float64            `koanf:"warn_level"`
	CriticalLevel float64            `koanf:"critical_level"`
}

type SimilarityConfig struct {
	VectorWeight  float64 `koanf:"vector_weight"`
	BigramWeight  float64 `koanf:"bigram_weight"`
	ContextWeight float64 `koanf:"context_weight"`
	TopK          int     `koanf:"top_k"`
}

type ForecastConfig struct {
	BaselineWeight    float64     `koanf:"baseline_weight"`
	SimilarWeight     float64     `koanf:"similar_weight"`
	GrowthBase        float64     `koanf:"growth_base"`
	GrowthSimilarGain float64     `koanf:"growth_similar_gain"`
	Floors            []FloorRule `koanf:"floors"`
}

// FloorRule hard-floors a risk type's baseline when a named signal crosses a
// trigger threshold.
type FloorRule struct {
	RiskType string  `koanf:"risk_type"`
	Signal   string  `koanf:"signal"`
	AtLeast  float64 `koanf:"at_least"`
	Floor    float64 `koanf:"floor"`
}

type RecommendConfig struct {
	MinEvidence int     `koanf:"min_evidence"`
	MinQuality  float64 `koanf:"min_quality"`
	DraftBudget int     `koanf:"draft_budget"`
}

type DraftConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	APIKey   string `koanf:"api_key"`
	BaseURL  string `koanf:"base_url"`
	Timeout  string `koanf:"timeout"`
}

const (
	DefaultLogLevel = "info"

	DefaultStoreBusyTimeout = "5s"

	DefaultSchedulerSchedule        = "@every 1h"
	DefaultSchedulerTickInterval    = "30s"
	DefaultSchedulerShutdownTimeout = "30s"
	DefaultSchedulerAbandonedCutoff = "2h"
	DefaultSchedulerMaxCatchupRuns  = 1

	DefaultPipelineMaxParallelProjects = 4

	DefaultSignalsMaxEvidence = 5

	DefaultScoringWarnLevel     = 40
	DefaultScoringCriticalLevel = 70

	DefaultSimilarityVectorWeight  = 0.6
	DefaultSimilarityBigramWeight  = 0.3
	DefaultSimilarityContextWeight = 0.1
	DefaultSimilarityTopK          = 5

	DefaultForecastBaselineWeight    = 0.75
	DefaultForecastSimilarWeight     = 0.25
	DefaultForecastGrowthBase        = 0.15
	DefaultForecastGrowthSimilarGain = 0.35

	DefaultRecommendMinEvidence = 1
	DefaultRecommendMinQuality  = 0.2
	DefaultRecommendDraftBudget = 3

	DefaultDraftProvider = "template"
	DefaultDraftTimeout  = "30s"
)

// DefaultSignalThresholds returns the stock warn/critical cutoffs per signal
// key. Values are product-tuned and overridable from the config file.
func DefaultSignalThresholds() map[string]Threshold {
	return map[string]Threshold{
		"waiting_on_client_days":  {Warn: 2, Critical: 4},
		"response_time_avg_hours": {Warn: 24, Critical: 48},
		"blockers_age_days":       {Warn: 2, Critical: 5},
		"open_blockers":           {Warn: 2, Critical: 4},
		"stage_overdue_days":      {Warn: 1, Critical: 3},
		"scope_creep_rate":        {Warn: 1, Critical: 2},
		"budget_burn_rate":        {Warn: 0.85, Critical: 1.1},
		"margin_risk":             {Warn: 0.8, Critical: 1.0},
		"sentiment_trend":         {Warn: -0.2, Critical: -0.5, Inverted: true},
		"activity_drop":           {Warn: 0.5, Critical: 0.8},
		"needs_open":              {Warn: 2, Critical: 4},
	}
}

// DefaultRiskWeights weights normalized signals into the composite risk score.
func DefaultRiskWeights() map[string]float64 {
	return map[string]float64{
		"waiting_on_client_days": 0.15,
		"blockers_age_days":      0.15,
		"open_blockers":          0.10,
		"stage_overdue_days":     0.15,
		"scope_creep_rate":       0.10,
		"budget_burn_rate":       0.15,
		"margin_risk":            0.05,
		"sentiment_trend":        0.10,
		"activity_drop":          0.05,
	}
}

func DefaultHealthWeights() map[string]float64 {
	return map[string]float64{
		"waiting_on_client_days":  0.10,
		"response_time_avg_hours": 0.15,
		"blockers_age_days":       0.15,
		"stage_overdue_days":      0.15,
		"budget_burn_rate":        0.15,
		"sentiment_trend":         0.15,
		"activity_drop":           0.15,
	}
}

// DefaultForecastFloors are the stock trigger floors applied to forecast
// baselines before the similar-case blend.
func DefaultForecastFloors() []FloorRule {
	return []FloorRule{
		{RiskType: "client_risk", Signal: "waiting_on_client_days", AtLeast: 4, Floor: 0.62},
		{RiskType: "client_risk", Signal: "waiting_on_client_days", AtLeast: 2, Floor: 0.5},
		{RiskType: "delivery_risk", Signal: "open_blockers", AtLeast: 3, Floor: 0.62},
		{RiskType: "delivery_risk", Signal: "blockers_age_days", AtLeast: 5, Floor: 0.65},
		{RiskType: "finance_risk", Signal: "budget_burn_rate", AtLeast: 1.1, Floor: 0.55},
		{RiskType: "finance_risk", Signal: "budget_burn_rate", AtLeast: 1.25, Floor: 0.62},
		{RiskType: "scope_risk", Signal: "scope_creep_rate", AtLeast: 2, Floor: 0.6},
	}
}

func DefaultUpsellWeights() map[string]float64 {
	return map[string]float64{
		"needs_open":      0.45,
		"sentiment_trend": 0.30,
		"activity_drop":   0.25,
	}
}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"log.level":                      DefaultLogLevel,
		"store.path":                     filepath.Join(dataHome(), "mihari.db"),
		"store.busy_timeout":             DefaultStoreBusyTimeout,
		"scheduler.schedule":             DefaultSchedulerSchedule,
		"scheduler.tick_interval":        DefaultSchedulerTickInterval,
		"scheduler.shutdown_timeout":     DefaultSchedulerShutdownTimeout,
		"scheduler.lock_path":            filepath.Join(dataHome(), "mihari.lock"),
		"scheduler.abandoned_cutoff":     DefaultSchedulerAbandonedCutoff,
		"scheduler.max_catchup_runs":     DefaultSchedulerMaxCatchupRuns,
		"pipeline.max_parallel_projects": DefaultPipelineMaxParallelProjects,
		"signals.max_evidence_per_signal": DefaultSignalsMaxEvidence,
		"signals.thresholds":             DefaultSignalThresholds(),
		"scoring.risk_weights":           DefaultRiskWeights(),
		"scoring.health_weights":         DefaultHealthWeights(),
		"scoring.upsell_weights":         DefaultUpsellWeights(),
		"scoring.warn_level":             DefaultScoringWarnLevel,
		"scoring.critical_level":         DefaultScoringCriticalLevel,
		"similarity.vector_weight":       DefaultSimilarityVectorWeight,
		"similarity.bigram_weight":       DefaultSimilarityBigramWeight,
		"similarity.context_weight":      DefaultSimilarityContextWeight,
		"similarity.top_k":               DefaultSimilarityTopK,
		"forecast.baseline_weight":       DefaultForecastBaselineWeight,
		"forecast.similar_weight":        DefaultForecastSimilarWeight,
		"forecast.growth_base":           DefaultForecastGrowthBase,
		"forecast.growth_similar_gain":   DefaultForecastGrowthSimilarGain,
		"forecast.floors":                DefaultForecastFloors(),
		"recommend.min_evidence":         DefaultRecommendMinEvidence,
		"recommend.min_quality":          DefaultRecommendMinQuality,
		"recommend.draft_budget":         DefaultRecommendDraftBudget,
		"draft.provider":                 DefaultDraftProvider,
		"draft.timeout":                  DefaultDraftTimeout,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".mihari", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	k.Load(env.Provider("MIHARI_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "MIHARI_")), "_", ".", -1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if cfg.Draft.APIKey == "" {
		switch cfg.Draft.Provider {
		case "anthropic":
			cfg.Draft.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.Draft.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			cfg.Draft.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}

	return &cfg, nil
}

func dataHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".mihari")
}
