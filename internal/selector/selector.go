// Package selector chooses an extraction tier for an input before any
// costly model call is issued, bounded by the context's remaining budget.
package selector

import (
	"math"

	"github.com/sells-group/recruit-intake/internal/model"
)

// Tier describes one discrete cost/quality level of extraction work.
type Tier struct {
	// Name is the tier's short label ("haiku", "sonnet", "opus").
	Name string `yaml:"name" mapstructure:"name"`
	// Model is the model id used for calls at this tier.
	Model string `yaml:"model" mapstructure:"model"`
	// CostPerKChar is the worst-case estimated cost in USD per 1,000
	// input characters, output tokens included.
	CostPerKChar float64 `yaml:"cost_per_kchar" mapstructure:"cost_per_kchar"`
	// MinCostUSD floors the per-call estimate for tiny inputs.
	MinCostUSD float64 `yaml:"min_cost_usd" mapstructure:"min_cost_usd"`
	// Quality is the expected extraction quality at this tier (0-1).
	Quality float64 `yaml:"quality" mapstructure:"quality"`
}

// Config holds the ordered tier table and the complexity thresholds
// mapping input size to a nominal tier. Configuration, not caller code.
type Config struct {
	// Tiers is ordered cheapest first. At least one is required.
	Tiers []Tier `yaml:"tiers" mapstructure:"tiers"`
	// Threshold1 and Threshold2 are input-length boundaries in
	// characters: below Threshold1 the cheapest tier is nominal,
	// between the two the middle tier, above Threshold2 the last.
	Threshold1 int `yaml:"threshold1" mapstructure:"threshold1"`
	Threshold2 int `yaml:"threshold2" mapstructure:"threshold2"`
}

// DefaultConfig returns the stock three-tier table.
func DefaultConfig() Config {
	return Config{
		Tiers: []Tier{
			{Name: "haiku", Model: "claude-haiku-4-5-20251001", CostPerKChar: 0.0004, MinCostUSD: 0.0002, Quality: 0.75},
			{Name: "sonnet", Model: "claude-sonnet-4-5-20250929", CostPerKChar: 0.0015, MinCostUSD: 0.0008, Quality: 0.90},
			{Name: "opus", Model: "claude-opus-4-6", CostPerKChar: 0.0075, MinCostUSD: 0.004, Quality: 0.97},
		},
		Threshold1: 2000,
		Threshold2: 12000,
	}
}

// Selector maps inputs to tier decisions. Pure: same inputs always
// produce the same decision, no I/O.
type Selector struct {
	cfg Config
}

// New creates a Selector. An empty config gets DefaultConfig.
func New(cfg Config) *Selector {
	if len(cfg.Tiers) == 0 {
		cfg = DefaultConfig()
	}
	if cfg.Threshold1 <= 0 {
		cfg.Threshold1 = 2000
	}
	if cfg.Threshold2 <= cfg.Threshold1 {
		cfg.Threshold2 = cfg.Threshold1 * 6
	}
	return &Selector{cfg: cfg}
}

// EstimateCost returns the worst-case estimated cost in USD of running
// an input of inputLen characters at tier t.
func EstimateCost(t Tier, inputLen int) float64 {
	cost := float64(inputLen) / 1000 * t.CostPerKChar
	return math.Max(cost, t.MinCostUSD)
}

// Select chooses a tier for an input of inputLen characters given the
// remaining budget in USD and the context's quality target (0-1).
//
// The nominal tier comes from the length thresholds, raised if needed to
// meet the quality target. If the nominal tier's worst-case cost would
// exceed the budget it is downgraded to the next cheaper affordable
// tier and the decision is flagged BudgetConstrained; when even the
// cheapest tier exceeds the budget, the cheapest is returned flagged
// rather than silently violating the budget.
func (s *Selector) Select(inputLen int, budgetUSD, qualityTarget float64) model.TierDecision {
	nominal := s.nominalIndex(inputLen)

	// A high quality target can raise the nominal tier.
	for nominal < len(s.cfg.Tiers)-1 && s.cfg.Tiers[nominal].Quality < qualityTarget {
		nominal++
	}

	chosen := nominal
	constrained := false
	for chosen > 0 && EstimateCost(s.cfg.Tiers[chosen], inputLen) > budgetUSD {
		chosen--
		constrained = true
	}
	if EstimateCost(s.cfg.Tiers[chosen], inputLen) > budgetUSD {
		constrained = true
	}

	t := s.cfg.Tiers[chosen]
	return model.TierDecision{
		Tier:              t.Name,
		Model:             t.Model,
		EstimatedCostUSD:  EstimateCost(t, inputLen),
		ComplexityScore:   s.complexity(inputLen),
		QualityTarget:     qualityTarget,
		BudgetConstrained: constrained,
	}
}

// TierByName returns the tier with the given name, or false.
func (s *Selector) TierByName(name string) (Tier, bool) {
	for _, t := range s.cfg.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

func (s *Selector) nominalIndex(inputLen int) int {
	last := len(s.cfg.Tiers) - 1
	switch {
	case inputLen < s.cfg.Threshold1:
		return 0
	case inputLen < s.cfg.Threshold2:
		return min(1, last)
	default:
		return last
	}
}

// complexity maps input length onto [0,1] against the upper threshold.
func (s *Selector) complexity(inputLen int) float64 {
	score := float64(inputLen) / float64(s.cfg.Threshold2)
	return math.Min(score, 1.0)
}
